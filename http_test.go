package intake_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-intake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiResponse struct {
	status int
	header map[string]string
	raw    []byte
}

func (r apiResponse) object(t *testing.T) map[string]any {
	t.Helper()
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(r.raw, &out), string(r.raw))
	return out
}

func (r apiResponse) list(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	require.NoError(t, json.Unmarshal(r.raw, &out), string(r.raw))
	return out
}

func newAPI(t *testing.T, throttle fiber.Handler) (*fiber.App, *fixture) {
	t.Helper()
	f := newFixture(t)
	app := fiber.New(fiber.Config{ErrorHandler: intake.NewErrorHandler(intake.NopLogger())})
	f.services.Mount(app, throttle, f.store)
	return app, f
}

func call(t *testing.T, app *fiber.App, method, path, token string, body any) apiResponse {
	t.Helper()

	var reader io.Reader
	contentType := ""
	switch b := body.(type) {
	case nil:
	case *bytes.Buffer:
		reader = b
	case string:
		reader = bytes.NewBufferString(b)
		contentType = fiber.MIMEApplicationJSON
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
		contentType = fiber.MIMEApplicationJSON
	}

	req := httptest.NewRequest(method, path, reader)
	if contentType != "" {
		req.Header.Set(fiber.HeaderContentType, contentType)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	header := map[string]string{}
	for k := range resp.Header {
		header[k] = resp.Header.Get(k)
	}
	return apiResponse{status: resp.StatusCode, header: header, raw: raw}
}

func multipartCall(t *testing.T, app *fiber.App, method, path, token string, values map[string][]string, files []multipartFile) apiResponse {
	t.Helper()
	body, contentType := buildMultipart(t, values, files)

	req := httptest.NewRequest(method, path, body)
	req.Header.Set(fiber.HeaderContentType, contentType)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return apiResponse{status: resp.StatusCode, raw: raw}
}

func TestAPI_RegisterLoginMe(t *testing.T) {
	app, _ := newAPI(t, nil)

	res := call(t, app, fiber.MethodPost, "/auth/register", "", fiber.Map{
		"firstName": "Amina",
		"lastName":  "Yusuf",
		"email":     "Amina@Example.com",
		"password":  "secret123",
		"role":      "Acceptor",
	})
	require.Equal(t, fiber.StatusCreated, res.status, string(res.raw))

	registered := res.object(t)
	assert.NotEmpty(t, registered["token"])
	user := registered["user"].(map[string]any)
	assert.Equal(t, "amina@example.com", user["email"])
	assert.Equal(t, "acceptor", user["role"])
	assert.Equal(t, "pending", user["verificationStatus"])
	assert.NotContains(t, user, "passwordHash")
	assert.NotContains(t, string(res.raw), "$2a$")

	t.Run("duplicate registration", func(t *testing.T) {
		res := call(t, app, fiber.MethodPost, "/auth/register", "", fiber.Map{
			"firstName": "A", "lastName": "B", "email": "amina@example.com", "password": "secret123", "role": "donor",
		})
		assert.Equal(t, fiber.StatusBadRequest, res.status)
		assert.Equal(t, intake.TextCodeDuplicateEmail, res.object(t)["textCode"])
	})

	t.Run("malformed body", func(t *testing.T) {
		res := call(t, app, fiber.MethodPost, "/auth/register", "", `{"email":`)
		assert.Equal(t, fiber.StatusBadRequest, res.status)
		assert.Equal(t, "Invalid request body", res.object(t)["message"])
	})

	res = call(t, app, fiber.MethodPost, "/auth/login", "", fiber.Map{
		"email": "amina@example.com", "password": "secret123", "role": "acceptor",
	})
	require.Equal(t, fiber.StatusOK, res.status, string(res.raw))
	token := res.object(t)["token"].(string)

	t.Run("login failures", func(t *testing.T) {
		res := call(t, app, fiber.MethodPost, "/auth/login", "", fiber.Map{
			"email": "amina@example.com", "password": "wrong-password", "role": "acceptor",
		})
		assert.Equal(t, fiber.StatusUnauthorized, res.status)
		assert.Equal(t, "Invalid email or password", res.object(t)["message"])

		res = call(t, app, fiber.MethodPost, "/auth/login", "", fiber.Map{
			"email": "amina@example.com", "password": "secret123", "role": "donor",
		})
		assert.Equal(t, fiber.StatusUnauthorized, res.status)
		assert.Equal(t, intake.TextCodeRoleMismatch, res.object(t)["textCode"])
	})

	res = call(t, app, fiber.MethodGet, "/auth/me", token, nil)
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, "amina@example.com", res.object(t)["email"])

	res = call(t, app, fiber.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, res.status)
	assert.Equal(t, "No authorization header", res.object(t)["message"])
}

func TestAPI_ApplicationLifecycle(t *testing.T) {
	app, f := newAPI(t, nil)
	acceptor, acceptorToken := f.register(t, intake.RoleAcceptor, "acceptor@example.com")
	_, adminToken := f.register(t, intake.RoleAdmin, "admin@example.com")
	id := acceptor.ID.String()

	t.Run("unknown fields are rejected", func(t *testing.T) {
		res := call(t, app, fiber.MethodPatch, "/auth/me", acceptorToken, fiber.Map{"nickname": "x"})
		assert.Equal(t, fiber.StatusBadRequest, res.status)
		assert.Equal(t, intake.TextCodeInvalidUpdates, res.object(t)["textCode"])
	})

	t.Run("acceptors must upload a document", func(t *testing.T) {
		res := call(t, app, fiber.MethodPatch, "/auth/me", acceptorToken, fiber.Map{"firstName": "Amina"})
		assert.Equal(t, fiber.StatusBadRequest, res.status)
		assert.Equal(t, intake.TextCodeDocumentRequired, res.object(t)["textCode"])
	})

	t.Run("disallowed file types are rejected", func(t *testing.T) {
		res := multipartCall(t, app, fiber.MethodPut, "/users/profile", acceptorToken, nil, []multipartFile{
			{field: intake.UploadFieldDocuments, filename: "notes.txt", data: textFixture},
		})
		assert.Equal(t, fiber.StatusBadRequest, res.status)
		assert.Equal(t, intake.TextCodeInvalidUpload, res.object(t)["textCode"])
	})

	res := multipartCall(t, app, fiber.MethodPut, "/users/profile", acceptorToken, map[string][]string{
		"firstName": {"Amina"},
		"profile":   {string(validAcceptorPatch())},
	}, []multipartFile{
		{field: intake.UploadFieldDocuments, filename: "id.png", data: pngFixture},
	})
	require.Equal(t, fiber.StatusOK, res.status, string(res.raw))

	submitted := res.object(t)
	assert.Equal(t, "Amina", submitted["firstName"])
	assert.Equal(t, "in_review", submitted["verificationStatus"])
	documents := submitted["documents"].([]any)
	require.Len(t, documents, 1)
	document := documents[0].(map[string]any)
	documentID := document["id"].(string)
	assert.Equal(t, false, document["verified"])
	profile := submitted["profile"].(map[string]any)
	assert.Equal(t, "+16502530000", profile["phone"])

	t.Run("applicants can not review themselves", func(t *testing.T) {
		res := call(t, app, fiber.MethodPut, "/users/admin/verify/"+id, acceptorToken, fiber.Map{"status": "approved"})
		assert.Equal(t, fiber.StatusForbidden, res.status)
	})

	t.Run("document verification", func(t *testing.T) {
		path := "/users/admin/verify-document/" + id + "/" + documentID
		res := call(t, app, fiber.MethodPut, path, adminToken, fiber.Map{})
		assert.Equal(t, fiber.StatusBadRequest, res.status)

		res = call(t, app, fiber.MethodPut, path, adminToken, fiber.Map{"verified": true, "note": "legible"})
		require.Equal(t, fiber.StatusOK, res.status, string(res.raw))
		account := res.object(t)
		assert.Equal(t, true, account["documents"].([]any)[0].(map[string]any)["verified"])
		assert.Len(t, account["verificationNotes"], 1)

		res = call(t, app, fiber.MethodPut, "/users/admin/verify-document/"+id+"/not-a-uuid", adminToken, fiber.Map{"verified": true})
		assert.Equal(t, fiber.StatusNotFound, res.status)
	})

	t.Run("document retrieval", func(t *testing.T) {
		res := call(t, app, fiber.MethodGet, "/users/admin/document/"+id+"/"+documentID, adminToken, nil)
		require.Equal(t, fiber.StatusOK, res.status)
		url := res.object(t)["url"].(string)
		assert.Equal(t, document["url"], url)

		file := call(t, app, fiber.MethodGet, url, adminToken, nil)
		assert.Equal(t, fiber.StatusOK, file.status)
		assert.Equal(t, pngFixture, file.raw)

		file = call(t, app, fiber.MethodGet, url, acceptorToken, nil)
		assert.Equal(t, fiber.StatusOK, file.status, "owners read their own files")
		assert.Equal(t, pngFixture, file.raw)
	})

	t.Run("uploaded files are private", func(t *testing.T) {
		url := document["url"].(string)

		res := call(t, app, fiber.MethodGet, url, "", nil)
		assert.Equal(t, fiber.StatusUnauthorized, res.status)

		_, otherToken := f.register(t, intake.RoleDonor, "other@example.com")
		res = call(t, app, fiber.MethodGet, url, otherToken, nil)
		assert.Equal(t, fiber.StatusForbidden, res.status)
		assert.Equal(t, intake.TextCodeForbidden, res.object(t)["textCode"])

		res = call(t, app, fiber.MethodGet, "/uploads/not-an-account-key.png", otherToken, nil)
		assert.Equal(t, fiber.StatusForbidden, res.status)
	})

	t.Run("invalid status", func(t *testing.T) {
		res := call(t, app, fiber.MethodPut, "/users/admin/verify/"+id, adminToken, fiber.Map{"status": "done"})
		assert.Equal(t, fiber.StatusBadRequest, res.status)
		assert.Equal(t, intake.TextCodeInvalidStatus, res.object(t)["textCode"])
	})

	res = call(t, app, fiber.MethodPut, "/users/admin/verify/"+id, adminToken, fiber.Map{
		"status": "approved",
		"reason": "All documents check out",
		"note":   "Called the applicant",
	})
	require.Equal(t, fiber.StatusOK, res.status, string(res.raw))
	approved := res.object(t)
	assert.Equal(t, "approved", approved["verificationStatus"])
	assert.Len(t, approved["verificationHistory"], 2)
	assert.Len(t, approved["verificationNotes"], 2)

	res = call(t, app, fiber.MethodGet, "/users/verification-history/"+id, adminToken, nil)
	require.Equal(t, fiber.StatusOK, res.status)
	history := res.object(t)
	assert.Equal(t, "approved", history["status"])
	events := history["history"].([]any)
	require.Len(t, events, 2)
	first := events[0].(map[string]any)
	assert.Equal(t, "in_review", first["status"])
	assert.Equal(t, intake.InitialSubmissionReason, first["reason"])
	last := events[1].(map[string]any)
	assert.Equal(t, "All documents check out", last["reason"])
	assert.Equal(t, "admin@example.com", last["changedByUser"].(map[string]any)["email"])

	t.Run("listings carry history and notes", func(t *testing.T) {
		for _, path := range []string{"/users/?role=acceptor", "/admin/acceptors"} {
			res := call(t, app, fiber.MethodGet, path, adminToken, nil)
			require.Equal(t, fiber.StatusOK, res.status, path)

			var listed map[string]any
			for _, a := range res.list(t) {
				if a["id"] == id {
					listed = a
				}
			}
			require.NotNil(t, listed, path)
			events := listed["verificationHistory"].([]any)
			require.Len(t, events, 2, path)
			assert.Equal(t, "in_review", events[0].(map[string]any)["status"], path)
			assert.Equal(t, "admin@example.com", events[1].(map[string]any)["changedByUser"].(map[string]any)["email"], path)
			assert.Len(t, listed["verificationNotes"], 2, path)
		}

		_, donorToken := f.register(t, intake.RoleDonor, "listing-donor@example.com")
		res := call(t, app, fiber.MethodGet, "/users/acceptors", donorToken, nil)
		require.Equal(t, fiber.StatusOK, res.status)
		listed := res.list(t)
		require.Len(t, listed, 1)
		assert.Len(t, listed[0]["verificationHistory"], 2)
		assert.Len(t, listed[0]["verificationNotes"], 2)
	})

	res = call(t, app, fiber.MethodGet, "/admin/stats/acceptors", adminToken, nil)
	require.Equal(t, fiber.StatusOK, res.status)
	stats := res.object(t)
	assert.EqualValues(t, 1, stats["total"])
	assert.EqualValues(t, 1, stats["approved"])
	assert.EqualValues(t, 0, stats["in_review"])
	assert.EqualValues(t, 1, stats["verified"])
}

func TestAPI_AdminAccountManagement(t *testing.T) {
	app, f := newAPI(t, nil)
	_, adminToken := f.register(t, intake.RoleAdmin, "admin@example.com")
	donor, donorToken := f.register(t, intake.RoleDonor, "donor@example.com")
	_, acceptorToken := f.register(t, intake.RoleAcceptor, "acceptor@example.com")
	id := donor.ID.String()

	t.Run("role guards", func(t *testing.T) {
		assert.Equal(t, fiber.StatusOK, call(t, app, fiber.MethodGet, "/users/donors", acceptorToken, nil).status)
		assert.Equal(t, fiber.StatusForbidden, call(t, app, fiber.MethodGet, "/users/donors", donorToken, nil).status)
		assert.Equal(t, fiber.StatusOK, call(t, app, fiber.MethodGet, "/users/acceptors", donorToken, nil).status)
		assert.Equal(t, fiber.StatusForbidden, call(t, app, fiber.MethodGet, "/users/acceptors", acceptorToken, nil).status)
		assert.Equal(t, fiber.StatusForbidden, call(t, app, fiber.MethodGet, "/users/", donorToken, nil).status)
		assert.Equal(t, fiber.StatusForbidden, call(t, app, fiber.MethodGet, "/admin/acceptors", acceptorToken, nil).status)
	})

	t.Run("listing", func(t *testing.T) {
		res := call(t, app, fiber.MethodGet, "/users/?role=donor", adminToken, nil)
		require.Equal(t, fiber.StatusOK, res.status)
		donors := res.list(t)
		require.Len(t, donors, 1)
		assert.Equal(t, "donor@example.com", donors[0]["email"])

		res = call(t, app, fiber.MethodGet, "/users/?role=pilot", adminToken, nil)
		assert.Equal(t, fiber.StatusBadRequest, res.status)

		res = call(t, app, fiber.MethodGet, "/admin/acceptors", adminToken, nil)
		require.Equal(t, fiber.StatusOK, res.status)
		assert.Len(t, res.list(t), 1)
	})

	t.Run("lookup", func(t *testing.T) {
		res := call(t, app, fiber.MethodGet, "/users/"+id, adminToken, nil)
		require.Equal(t, fiber.StatusOK, res.status)
		assert.Equal(t, "donor@example.com", res.object(t)["email"])

		res = call(t, app, fiber.MethodGet, "/users/not-a-uuid", adminToken, nil)
		assert.Equal(t, fiber.StatusNotFound, res.status)
		assert.Equal(t, intake.TextCodeAccountNotFound, res.object(t)["textCode"])
	})

	t.Run("patch", func(t *testing.T) {
		res := call(t, app, fiber.MethodPatch, "/users/"+id, adminToken, fiber.Map{"role": "admin"})
		assert.Equal(t, fiber.StatusBadRequest, res.status)
		assert.Equal(t, "Role can not be changed", res.object(t)["message"])

		res = call(t, app, fiber.MethodPatch, "/users/"+id, adminToken, fiber.Map{"password": "x"})
		assert.Equal(t, fiber.StatusBadRequest, res.status)
		assert.Equal(t, intake.TextCodeInvalidUpdates, res.object(t)["textCode"])

		res = call(t, app, fiber.MethodPatch, "/users/"+id, adminToken, fiber.Map{"isActive": "no"})
		assert.Equal(t, fiber.StatusBadRequest, res.status)

		res = call(t, app, fiber.MethodPatch, "/users/"+id, adminToken, fiber.Map{"lastName": "Okafor"})
		require.Equal(t, fiber.StatusOK, res.status, string(res.raw))
		assert.Equal(t, "Okafor", res.object(t)["lastName"])
	})

	t.Run("deactivation is idempotent", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			res := call(t, app, fiber.MethodDelete, "/users/"+id, adminToken, nil)
			require.Equal(t, fiber.StatusOK, res.status)
			assert.Equal(t, "User deactivated successfully", res.object(t)["message"])
		}

		res := call(t, app, fiber.MethodGet, "/auth/me", donorToken, nil)
		assert.Equal(t, fiber.StatusUnauthorized, res.status, "tokens of deactivated accounts stop working")

		res = call(t, app, fiber.MethodPost, "/auth/login", "", fiber.Map{
			"email": "donor@example.com", "password": "secret123", "role": "donor",
		})
		assert.Equal(t, fiber.StatusUnauthorized, res.status)
		assert.Equal(t, intake.TextCodeAccountInactive, res.object(t)["textCode"])

		res = call(t, app, fiber.MethodGet, "/users/"+id, adminToken, nil)
		require.Equal(t, fiber.StatusOK, res.status)
		account := res.object(t)
		assert.Equal(t, false, account["isActive"])
		assert.Empty(t, account["verificationHistory"])
	})

	t.Run("unknown account", func(t *testing.T) {
		res := call(t, app, fiber.MethodDelete, "/users/00000000-0000-0000-0000-000000000001", adminToken, nil)
		assert.Equal(t, fiber.StatusNotFound, res.status)
	})
}

func TestAPI_Throttle(t *testing.T) {
	limiter := intake.NewRateLimiter(time.Minute, 2)
	app, _ := newAPI(t, limiter.Handler())

	login := fiber.Map{"email": "nobody@example.com", "password": "secret123", "role": "donor"}
	for i := 0; i < 2; i++ {
		res := call(t, app, fiber.MethodPost, "/auth/login", "", login)
		assert.Equal(t, fiber.StatusUnauthorized, res.status)
	}

	res := call(t, app, fiber.MethodPost, "/auth/login", "", login)
	assert.Equal(t, fiber.StatusTooManyRequests, res.status)
	assert.Equal(t, intake.TextCodeRateLimited, res.object(t)["textCode"])
	assert.Equal(t, "60", res.header[fiber.HeaderRetryAfter])
}
