package book

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const multipartMemory = 8 << 20

var textFields = []string{"title", "author", "description", "isbn", "imageUrl", "publishedDate"}

// decodeInput reads a create or update body. Multipart, JSON and urlencoded
// bodies are accepted; only multipart may carry an image. The returned
// cleanup func must always be called.
func (h *HTTPHandler) decodeInput(r *http.Request) (Input, *Upload, func(), error) {
	noop := func() {}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return Input{}, nil, noop, bodyError(err)
		}
		cleanup := func() { _ = r.MultipartForm.RemoveAll() }

		in, err := formInput(r.MultipartForm.Value)
		if err != nil {
			return Input{}, nil, cleanup, err
		}
		up, closeFile, err := h.formUpload(r.MultipartForm)
		if err != nil {
			return Input{}, nil, cleanup, err
		}
		return in, up, func() { closeFile(); cleanup() }, nil

	case "application/json":
		var body map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return Input{}, nil, noop, bodyError(err)
		}
		in, err := jsonInput(body)
		return in, nil, noop, err

	default:
		if err := r.ParseForm(); err != nil {
			return Input{}, nil, noop, bodyError(err)
		}
		in, err := formInput(r.PostForm)
		return in, nil, noop, err
	}
}

func (h *HTTPHandler) formUpload(form *multipart.Form) (*Upload, func(), error) {
	files := form.File["image"]
	if len(files) == 0 {
		return nil, func() {}, nil
	}
	header := files[0]
	up := Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
	}
	if err := checkImage(up, h.maxImageBytes); err != nil {
		return nil, func() {}, err
	}
	f, err := header.Open()
	if err != nil {
		return nil, func() {}, err
	}
	up.Body = f
	return &up, func() { _ = f.Close() }, nil
}

func checkImage(up Upload, maxBytes int64) error {
	if !strings.HasPrefix(strings.ToLower(up.ContentType), "image/") {
		return newValidationError("image", "Not an image! Please upload an image.")
	}
	if maxBytes > 0 && up.Size > maxBytes {
		return newValidationError("image", "image must be at most %d bytes", maxBytes)
	}
	return nil
}

func formInput(values url.Values) (Input, error) {
	var in Input
	var fields []FieldError

	strs := map[string]**string{
		"title":         &in.Title,
		"author":        &in.Author,
		"description":   &in.Description,
		"isbn":          &in.ISBN,
		"imageUrl":      &in.ImageURL,
		"publishedDate": &in.PublishedDate,
	}
	for _, key := range textFields {
		if vs, ok := values[key]; ok && len(vs) > 0 {
			v := vs[0]
			*strs[key] = &v
		}
	}

	if vs, ok := values["price"]; ok && len(vs) > 0 {
		if f, err := parseNumber(vs[0]); err != nil {
			fields = append(fields, FieldError{Field: "price", Message: "price must be a number"})
		} else {
			in.Price = &f
		}
	}
	if vs, ok := values["quantity"]; ok && len(vs) > 0 {
		if q, err := parseInteger(vs[0]); err != nil {
			fields = append(fields, FieldError{Field: "quantity", Message: integerMessage("quantity", err)})
		} else {
			in.Quantity = &q
		}
	}

	rawTags, hasTags := values["tags"]
	if more, ok := values["tags[]"]; ok {
		rawTags, hasTags = append(rawTags, more...), true
	}
	if hasTags {
		tags, err := tagValues(rawTags)
		if err != nil {
			fields = append(fields, FieldError{Field: "tags", Message: "tags must be a list of strings"})
		}
		in.Tags = tags
	}

	if len(fields) > 0 {
		return Input{}, &ValidationError{Fields: fields}
	}
	return in, nil
}

func jsonInput(body map[string]json.RawMessage) (Input, error) {
	var in Input
	var fields []FieldError

	strs := map[string]**string{
		"title":         &in.Title,
		"author":        &in.Author,
		"description":   &in.Description,
		"isbn":          &in.ISBN,
		"imageUrl":      &in.ImageURL,
		"publishedDate": &in.PublishedDate,
	}
	for _, key := range textFields {
		raw, ok := body[key]
		if !ok {
			continue
		}
		s, err := jsonText(raw)
		if err != nil {
			fields = append(fields, FieldError{Field: key, Message: key + " must be a string"})
			continue
		}
		*strs[key] = &s
	}

	if raw, ok := body["price"]; ok && !isNull(raw) {
		if f, err := jsonNumber(raw); err != nil {
			fields = append(fields, FieldError{Field: "price", Message: "price must be a number"})
		} else {
			in.Price = &f
		}
	}
	if raw, ok := body["quantity"]; ok && !isNull(raw) {
		if q, err := jsonInteger(raw); err != nil {
			fields = append(fields, FieldError{Field: "quantity", Message: integerMessage("quantity", err)})
		} else {
			in.Quantity = &q
		}
	}
	if raw, ok := body["tags"]; ok {
		tags, err := jsonTags(raw)
		if err != nil {
			fields = append(fields, FieldError{Field: "tags", Message: "tags must be a list of strings"})
		}
		in.Tags = tags
	}

	if len(fields) > 0 {
		return Input{}, &ValidationError{Fields: fields}
	}
	return in, nil
}

// decodeQuantity reads {"quantity": n} from a JSON or form body. A missing
// value yields nil.
func decodeQuantity(r *http.Request) (*int, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		if err := r.ParseForm(); err != nil {
			return nil, bodyError(err)
		}
		v, ok := r.PostForm["quantity"]
		if !ok || len(v) == 0 || strings.TrimSpace(v[0]) == "" {
			return nil, nil
		}
		q, err := parseInteger(v[0])
		if err != nil {
			return nil, newValidationError("quantity", "%s", integerMessage("quantity", err))
		}
		return &q, nil
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, bodyError(err)
	}
	raw, ok := body["quantity"]
	if !ok || isNull(raw) {
		return nil, nil
	}
	q, err := jsonInteger(raw)
	if err != nil {
		return nil, newValidationError("quantity", "%s", integerMessage("quantity", err))
	}
	return &q, nil
}

// tagValues accepts repeated fields, comma lists or a JSON array string.
func tagValues(raw []string) ([]string, error) {
	tags := []string{}
	for _, v := range raw {
		v = strings.TrimSpace(v)
		if strings.HasPrefix(v, "[") {
			var list []string
			if err := json.Unmarshal([]byte(v), &list); err != nil {
				return nil, err
			}
			tags = append(tags, list...)
			continue
		}
		tags = append(tags, splitTags(v)...)
	}
	return tags, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func jsonText(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	err := json.Unmarshal(raw, &s)
	return s, err
}

func jsonNumber(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return parseNumber(s)
}

func jsonInteger(raw json.RawMessage) (int, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		if f != math.Trunc(f) {
			return 0, errNotInteger
		}
		if math.Abs(f) > math.MaxInt32 {
			return 0, errIntRange
		}
		return int(f), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return parseInteger(s)
}

func jsonTags(raw json.RawMessage) ([]string, error) {
	if isNull(raw) {
		return []string{}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return tagValues([]string{s})
}

func parseNumber(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New("not a finite number")
	}
	return f, nil
}

var (
	errNotInteger = errors.New("not an integer")
	errIntRange   = errors.New("integer out of range")
)

// parseInteger accepts values that fit a 32-bit column.
func parseInteger(s string) (int, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, errIntRange
		}
		return 0, errNotInteger
	}
	return int(n), nil
}

func integerMessage(field string, err error) string {
	if errors.Is(err, errIntRange) {
		return fmt.Sprintf("%s must be between %d and %d", field, math.MinInt32, math.MaxInt32)
	}
	return field + " must be an integer"
}

// bodyError keeps size violations distinguishable from malformed bodies.
func bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return err
	}
	if strings.Contains(err.Error(), "request body too large") {
		return &http.MaxBytesError{}
	}
	return newValidationError("body", "malformed request body: %v", err)
}
