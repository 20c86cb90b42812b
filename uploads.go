package intake

import (
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	DefaultMaxUploadFiles = 5
	DefaultMaxUploadSize  = 5 << 20

	// UploadFieldDocuments is the multipart field carrying files
	UploadFieldDocuments = "documents"
	// UploadFieldDocumentTypes optionally names a DocumentType per file
	UploadFieldDocumentTypes = "documentTypes"
)

var allowedUploadTypes = []string{"image/jpeg", "image/png", "application/pdf"}

// Upload is a document received from the applicant, before storage
type Upload struct {
	Filename    string
	ContentType string
	Type        DocumentType
	Data        []byte
}

// UploadPolicy bounds what an applicant may upload in one request
type UploadPolicy struct {
	MaxFiles int
	MaxSize  int64
}

// DefaultUploadPolicy allows five files of up to 5MB each
func DefaultUploadPolicy() UploadPolicy {
	return UploadPolicy{MaxFiles: DefaultMaxUploadFiles, MaxSize: DefaultMaxUploadSize}
}

func (p UploadPolicy) normalized() UploadPolicy {
	if p.MaxFiles <= 0 {
		p.MaxFiles = DefaultMaxUploadFiles
	}
	if p.MaxSize <= 0 {
		p.MaxSize = DefaultMaxUploadSize
	}
	return p
}

// Check sniffs the content of every upload and enforces the limits.
// ContentType is replaced with the detected type.
func (p UploadPolicy) Check(uploads []Upload) error {
	p = p.normalized()

	if len(uploads) > p.MaxFiles {
		return withMessage(ErrInvalidUpload, "Too many files. At most %d files are allowed.", p.MaxFiles)
	}

	for i := range uploads {
		u := &uploads[i]
		if len(u.Data) == 0 {
			return withMessage(ErrInvalidUpload, "File %s is empty", u.Filename)
		}
		if int64(len(u.Data)) > p.MaxSize {
			return withMetadata(withMessage(ErrInvalidUpload, "File %s exceeds the %d MB limit", u.Filename, p.MaxSize>>20), map[string]any{
				"filename": u.Filename,
				"size":     len(u.Data),
			})
		}

		detected := mimetype.Detect(u.Data)
		if !allowedUpload(detected) {
			return withMetadata(withMessage(ErrInvalidUpload, "Invalid file type. Only JPEG, PNG and PDF files are allowed."), map[string]any{
				"filename": u.Filename,
				"detected": detected.String(),
			})
		}
		u.ContentType = detected.String()

		if u.Type == "" {
			u.Type = DocumentNationalID
		}
		if u.Filename == "" {
			u.Filename = "document" + detected.Extension()
		}
		u.Filename = filepath.Base(u.Filename)
	}

	return nil
}

// UploadsFromMultipart reads the documents field of a multipart form.
// Files beyond the policy limits are rejected before being read whole.
func UploadsFromMultipart(form *multipart.Form, policy UploadPolicy) ([]Upload, error) {
	if form == nil {
		return nil, nil
	}
	policy = policy.normalized()

	files := form.File[UploadFieldDocuments]
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > policy.MaxFiles {
		return nil, withMessage(ErrInvalidUpload, "Too many files. At most %d files are allowed.", policy.MaxFiles)
	}

	types := form.Value[UploadFieldDocumentTypes]
	uploads := make([]Upload, 0, len(files))
	for i, fh := range files {
		if fh.Size > policy.MaxSize {
			return nil, withMessage(ErrInvalidUpload, "File %s exceeds the %d MB limit", fh.Filename, policy.MaxSize>>20)
		}

		docType := DocumentNationalID
		if i < len(types) {
			t, err := ParseDocumentType(types[i])
			if err != nil {
				return nil, err
			}
			docType = t
		}

		data, err := readMultipartFile(fh, policy.MaxSize)
		if err != nil {
			return nil, err
		}

		uploads = append(uploads, Upload{
			Filename:    fh.Filename,
			ContentType: strings.TrimSpace(fh.Header.Get("Content-Type")),
			Type:        docType,
			Data:        data,
		})
	}

	return uploads, policy.Check(uploads)
}

func allowedUpload(m *mimetype.MIME) bool {
	for _, t := range allowedUploadTypes {
		if m.Is(t) {
			return true
		}
	}
	return false
}

func readMultipartFile(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, withMessage(ErrInvalidUpload, "Unable to read file %s", fh.Filename)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, withMessage(ErrInvalidUpload, "Unable to read file %s", fh.Filename)
	}
	return data, nil
}
