package client

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/go-querystring/query"

	"github.com/sardanioss/cloakfetch/protocol"
)

const (
	contentTypeText = "text/plain;charset=UTF-8"
	contentTypeForm = "application/x-www-form-urlencoded"
	contentTypeJSON = "application/json"
)

// Form sends Value, a struct with `url` tags, URL-encoded.
type Form struct {
	Value any
}

// JSON sends Value encoded as JSON.
type JSON struct {
	Value any
}

// FormFile is one file part of a multipart body.
type FormFile struct {
	FieldName string
	FileName  string
	Content   io.Reader
	MIMEType  string // detected from FileName when empty
}

type formField struct {
	name, value string
}

// FormData is a multipart/form-data body. Fields and files are written in
// the order they were added.
type FormData struct {
	fields []formField
	files  []FormFile

	// Boundary overrides the random multipart boundary.
	Boundary string
}

// NewFormData creates an empty multipart body.
func NewFormData() *FormData {
	return &FormData{}
}

// AddField adds a form field
func (f *FormData) AddField(name, value string) *FormData {
	f.fields = append(f.fields, formField{name, value})
	return f
}

// AddFile adds a file from bytes
func (f *FormData) AddFile(fieldName, fileName string, content []byte) *FormData {
	return f.AddFileReader(fieldName, fileName, bytes.NewReader(content), "")
}

// AddFileReader adds a file from an io.Reader
func (f *FormData) AddFileReader(fieldName, fileName string, content io.Reader, mimeType string) *FormData {
	if mimeType == "" {
		mimeType = detectMIMEType(fileName)
	}
	f.files = append(f.files, FormFile{
		FieldName: fieldName,
		FileName:  fileName,
		Content:   content,
		MIMEType:  mimeType,
	})
	return f
}

// Encode encodes the form data as multipart/form-data.
// Returns the body bytes and the Content-Type value (with boundary).
func (f *FormData) Encode() ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if f.Boundary != "" {
		if err := writer.SetBoundary(f.Boundary); err != nil {
			return nil, "", err
		}
	}

	for _, field := range f.fields {
		if err := writer.WriteField(field.name, field.value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", field.name, err)
		}
	}

	for _, file := range f.files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
			escapeQuotes(file.FieldName), escapeQuotes(file.FileName)))
		h.Set("Content-Type", file.MIMEType)

		part, err := writer.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create part %s: %w", file.FieldName, err)
		}
		if _, err := io.Copy(part, file.Content); err != nil {
			return nil, "", fmt.Errorf("copy part %s: %w", file.FieldName, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func detectMIMEType(filename string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); t != "" {
		return t
	}
	return "application/octet-stream"
}

// collapseBody turns a body value into bytes plus an optional content type
// hint.
func collapseBody(op string, body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case string:
		return []byte(strings.ToValidUTF8(b, "�")), contentTypeText, nil
	case []byte:
		return b, "", nil
	case url.Values:
		return []byte(b.Encode()), contentTypeForm, nil
	case map[string][]string:
		return []byte(url.Values(b).Encode()), contentTypeForm, nil
	case map[string]string:
		values := make(url.Values, len(b))
		for k, v := range b {
			values.Set(k, v)
		}
		return []byte(values.Encode()), contentTypeForm, nil
	case Form:
		values, err := query.Values(b.Value)
		if err != nil {
			return nil, "", protocol.Errorf(protocol.KindValidation, op, "%w: %w", protocol.ErrInvalidBody, err)
		}
		return []byte(values.Encode()), contentTypeForm, nil
	case JSON:
		data, err := sonic.Marshal(b.Value)
		if err != nil {
			return nil, "", protocol.Errorf(protocol.KindValidation, op, "%w: %w", protocol.ErrInvalidBody, err)
		}
		return data, contentTypeJSON, nil
	case *FormData:
		data, contentType, err := b.Encode()
		if err != nil {
			return nil, "", protocol.Errorf(protocol.KindValidation, op, "%w: %w", protocol.ErrInvalidBody, err)
		}
		return data, contentType, nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, "", protocol.Errorf(protocol.KindValidation, op, "%w: read: %w", protocol.ErrInvalidBody, err)
		}
		return data, "", nil
	default:
		return nil, "", protocol.Errorf(protocol.KindValidation, op, "%w: %T", protocol.ErrInvalidBody, body)
	}
}
