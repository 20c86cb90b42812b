package intake

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-intake/middleware/jwtware"
	"github.com/google/uuid"
)

// Controller exposes the REST API over the core services
type Controller struct {
	Logger     Logger
	Auth       Authenticator
	Applicant  *ApplicantService
	Workflow   *VerificationWorkflow
	Documents  *DocumentRegistry
	Admin      *AdminService
	ContextKey string
}

type ControllerOption func(*Controller) *Controller

func WithControllerLogger(logger Logger) ControllerOption {
	return func(c *Controller) *Controller {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerContextKey(key string) ControllerOption {
	return func(c *Controller) *Controller {
		if key != "" {
			c.ContextKey = key
		}
		return c
	}
}

func NewController(auth Authenticator, applicant *ApplicantService, workflow *VerificationWorkflow, documents *DocumentRegistry, admin *AdminService, opts ...ControllerOption) *Controller {
	c := &Controller{
		Logger:     defLogger(),
		Auth:       auth,
		Applicant:  applicant,
		Workflow:   workflow,
		Documents:  documents,
		Admin:      admin,
		ContextKey: jwtware.DefaultContextKey,
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Auth == nil {
		panic("Missing Authenticator in controller...")
	}

	if c.Applicant == nil || c.Workflow == nil || c.Documents == nil || c.Admin == nil {
		panic("Missing service in controller...")
	}

	return c
}

// RegisterRequest payload
type RegisterRequest struct {
	FirstName string `json:"firstName" form:"firstName"`
	LastName  string `json:"lastName" form:"lastName"`
	Email     string `json:"email" form:"email"`
	Password  string `json:"password" form:"password"`
	Role      string `json:"role" form:"role"`
}

func (a *Controller) Register(c *fiber.Ctx) error {
	payload := new(RegisterRequest)
	if err := c.BodyParser(payload); err != nil {
		return withMessage(ErrValidation, "Invalid request body")
	}

	result, err := a.Auth.Register(c.UserContext(), RegisterAccountMessage{
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Email:     payload.Email,
		Password:  payload.Password,
		Role:      Role(strings.ToLower(strings.TrimSpace(payload.Role))),
	})
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (a *Controller) Login(c *fiber.Ctx) error {
	payload := new(LoginPayload)
	if err := c.BodyParser(payload); err != nil {
		return withMessage(ErrValidation, "Invalid request body")
	}

	result, err := a.Auth.Login(c.UserContext(), *payload)
	if err != nil {
		return err
	}

	return c.JSON(result)
}

func (a *Controller) Me(c *fiber.Ctx) error {
	p, err := a.principal(c)
	if err != nil {
		return err
	}

	account, err := a.Auth.Me(c.UserContext(), p.AccountID)
	if err != nil {
		return err
	}
	return c.JSON(account)
}

// UpdateMe accepts JSON or multipart bodies with firstName, lastName,
// profile and documents
func (a *Controller) UpdateMe(c *fiber.Ctx) error {
	p, err := a.principal(c)
	if err != nil {
		return err
	}

	update, err := a.parseApplicantUpdate(c)
	if err != nil {
		return err
	}

	account, err := a.Applicant.Submit(c.UserContext(), p.AccountID, update)
	if err != nil {
		return err
	}
	return c.JSON(account)
}

var applicantFields = []string{"firstName", "lastName", "profile"}

func (a *Controller) parseApplicantUpdate(c *fiber.Ctx) (ApplicantUpdate, error) {
	var update ApplicantUpdate

	if strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEMultipartForm) {
		form, err := c.MultipartForm()
		if err != nil {
			return update, withMessage(ErrInvalidUpload, "Invalid multipart form")
		}

		for key := range form.Value {
			if key != UploadFieldDocumentTypes && !contains(applicantFields, key) {
				return update, ErrInvalidUpdates
			}
		}
		for key := range form.File {
			if key != UploadFieldDocuments {
				return update, ErrInvalidUpdates
			}
		}

		if v, ok := formValue(form.Value, "firstName"); ok {
			update.FirstName = &v
		}
		if v, ok := formValue(form.Value, "lastName"); ok {
			update.LastName = &v
		}
		if v, ok := formValue(form.Value, "profile"); ok && strings.TrimSpace(v) != "" {
			update.Profile = json.RawMessage(v)
		}

		uploads, err := UploadsFromMultipart(form, a.Documents.Policy())
		if err != nil {
			return update, err
		}
		update.Uploads = uploads
		return update, nil
	}

	body := bytes.TrimSpace(c.Body())
	if len(body) == 0 {
		return update, nil
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return update, withMessage(ErrValidation, "Invalid request body")
	}
	for key := range fields {
		if !contains(applicantFields, key) {
			return update, ErrInvalidUpdates
		}
	}

	var err error
	if update.FirstName, err = stringField(fields, "firstName"); err != nil {
		return update, err
	}
	if update.LastName, err = stringField(fields, "lastName"); err != nil {
		return update, err
	}
	if update.Profile, err = profileField(fields, "profile"); err != nil {
		return update, err
	}
	return update, nil
}

// VerifyRequest payload
type VerifyRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
	Note   string `json:"note"`
}

func (a *Controller) VerifyAccount(c *fiber.Ctx) error {
	p, err := a.principal(c)
	if err != nil {
		return err
	}

	id, err := accountParam(c, "id")
	if err != nil {
		return err
	}

	payload := new(VerifyRequest)
	if err := c.BodyParser(payload); err != nil {
		return withMessage(ErrValidation, "Invalid request body")
	}

	status, err := ParseStatus(payload.Status)
	if err != nil {
		return err
	}

	account, err := a.Workflow.Transition(c.UserContext(), id, status, p.Actor(), payload.Reason)
	if err != nil {
		return err
	}

	if strings.TrimSpace(payload.Note) != "" {
		if account, err = a.Workflow.AddNote(c.UserContext(), id, payload.Note, p.Actor()); err != nil {
			return err
		}
	}

	return c.JSON(account)
}

// VerifyDocumentRequest payload
type VerifyDocumentRequest struct {
	Verified *bool  `json:"verified"`
	Note     string `json:"note"`
}

func (a *Controller) VerifyDocument(c *fiber.Ctx) error {
	p, err := a.principal(c)
	if err != nil {
		return err
	}

	accountID, err := accountParam(c, "userId")
	if err != nil {
		return err
	}

	documentID, err := uuid.Parse(c.Params("documentId"))
	if err != nil {
		return ErrDocumentNotFound
	}

	payload := new(VerifyDocumentRequest)
	if err := c.BodyParser(payload); err != nil {
		return withMessage(ErrValidation, "Invalid request body")
	}
	if payload.Verified == nil {
		return withMessage(ErrValidation, "Verified flag is required")
	}

	account, err := a.Documents.SetVerified(c.UserContext(), accountID, documentID, *payload.Verified, payload.Note, p.Actor())
	if err != nil {
		return err
	}
	return c.JSON(account)
}

func (a *Controller) DocumentURL(c *fiber.Ctx) error {
	accountID, err := accountParam(c, "userId")
	if err != nil {
		return err
	}

	documentID, err := uuid.Parse(c.Params("documentId"))
	if err != nil {
		return ErrDocumentNotFound
	}

	url, err := a.Documents.Locate(c.UserContext(), accountID, documentID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"url": url})
}

func (a *Controller) VerificationHistory(c *fiber.Ctx) error {
	id, err := accountParam(c, "id")
	if err != nil {
		return err
	}

	history, err := a.Workflow.History(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(history)
}

func (a *Controller) ListAccounts(c *fiber.Ctx) error {
	filter := AccountFilter{
		Limit:  c.QueryInt("limit", 0),
		Offset: c.QueryInt("offset", 0),
	}

	if v := c.Query("role"); v != "" {
		role, err := ParseRole(v)
		if err != nil {
			return err
		}
		filter.Role = role
	}

	if v := c.Query("status"); v != "" {
		status, err := ParseStatus(v)
		if err != nil {
			return err
		}
		filter.Status = status
	}

	if v := c.Query("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return withMessage(ErrValidation, "Invalid active filter")
		}
		filter.Active = &active
	}

	accounts, err := a.Admin.List(c.UserContext(), filter)
	if err != nil {
		return err
	}
	return c.JSON(accounts)
}

func (a *Controller) Donors(c *fiber.Ctx) error {
	accounts, err := a.Admin.ActiveByRole(c.UserContext(), RoleDonor)
	if err != nil {
		return err
	}
	return c.JSON(accounts)
}

func (a *Controller) Acceptors(c *fiber.Ctx) error {
	accounts, err := a.Admin.ActiveByRole(c.UserContext(), RoleAcceptor)
	if err != nil {
		return err
	}
	return c.JSON(accounts)
}

func (a *Controller) GetAccount(c *fiber.Ctx) error {
	id, err := accountParam(c, "id")
	if err != nil {
		return err
	}

	account, err := a.Admin.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(account)
}

var adminFields = []string{"firstName", "lastName", "email", "isActive", "profile"}

func (a *Controller) PatchAccount(c *fiber.Ctx) error {
	p, err := a.principal(c)
	if err != nil {
		return err
	}

	id, err := accountParam(c, "id")
	if err != nil {
		return err
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(c.Body(), &fields); err != nil {
		return withMessage(ErrValidation, "Invalid request body")
	}

	for key := range fields {
		if key == "role" {
			return withMessage(ErrInvalidUpdates, "Role can not be changed")
		}
		if !contains(adminFields, key) {
			return ErrInvalidUpdates
		}
	}

	var update AdminAccountUpdate
	if update.FirstName, err = stringField(fields, "firstName"); err != nil {
		return err
	}
	if update.LastName, err = stringField(fields, "lastName"); err != nil {
		return err
	}
	if update.Email, err = stringField(fields, "email"); err != nil {
		return err
	}
	if update.Profile, err = profileField(fields, "profile"); err != nil {
		return err
	}
	if raw, ok := fields["isActive"]; ok {
		var active bool
		if err := json.Unmarshal(raw, &active); err != nil {
			return withMessage(ErrValidation, "isActive must be a boolean")
		}
		update.IsActive = &active
	}

	account, err := a.Admin.Update(c.UserContext(), id, update, p.Actor())
	if err != nil {
		return err
	}
	return c.JSON(account)
}

func (a *Controller) DeleteAccount(c *fiber.Ctx) error {
	p, err := a.principal(c)
	if err != nil {
		return err
	}

	id, err := accountParam(c, "id")
	if err != nil {
		return err
	}

	if _, err := a.Admin.Deactivate(c.UserContext(), id, p.Actor()); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "User deactivated successfully"})
}

func (a *Controller) AdminAcceptors(c *fiber.Ctx) error {
	accounts, err := a.Admin.Acceptors(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(accounts)
}

func (a *Controller) AdminAcceptorStats(c *fiber.Ctx) error {
	stats, err := a.Admin.AcceptorStats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

func (a *Controller) principal(c *fiber.Ctx) (Principal, error) {
	p, ok := PrincipalFromFiber(c, a.ContextKey)
	if !ok {
		return Principal{}, ErrAuthRequired
	}
	return p, nil
}

func accountParam(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, ErrAccountNotFound
	}
	return id, nil
}

func formValue(values map[string][]string, key string) (string, bool) {
	v, ok := values[key]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

func stringField(fields map[string]json.RawMessage, key string) (*string, error) {
	raw, ok := fields[key]
	if !ok {
		return nil, nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, withMessage(ErrValidation, "%s must be a string", key)
	}
	return &v, nil
}

// profileField accepts the profile as an object or as a JSON encoded
// string, the way multipart clients send it
func profileField(fields map[string]json.RawMessage, key string) (json.RawMessage, error) {
	raw, ok := fields[key]
	if !ok {
		return nil, nil
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, withMessage(ErrValidation, "Invalid profile data format")
		}
		return json.RawMessage(s), nil
	}
	return raw, nil
}
