package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rtemka/lumina/domain"
	"github.com/rtemka/lumina/pkg/media"
	"github.com/rtemka/lumina/pkg/sanitize"
)

// ограничения на размер тела запроса
const (
	maxJSONBody      = 1 << 20
	maxMultipartBody = media.MaxSize + 1<<20
	multipartMemory  = 8 << 20
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	// в сообщениях об ошибках используем имена полей из JSON
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

type registerRequest struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type commentRequest struct {
	Content  string `json:"content"`
	ParentID string `json:"parent_id" validate:"omitempty,uuid"`
	// имя поля, которое отправляет веб-клиент
	ParentCommentID string `json:"parentCommentId" validate:"omitempty,uuid"`
}

func (c commentRequest) parent() string {
	if c.ParentID != "" {
		return c.ParentID
	}
	return c.ParentCommentID
}

type postRequest struct {
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Tags    tagList `json:"tags"`
	cover   *media.File
}

type profileRequest struct {
	Username string `json:"username"`
	avatar   *media.File
}

// tagList - теги, переданные массивом или строкой через запятую.
// nil означает, что теги не переданы.
type tagList []string

func (t *tagList) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = parseTags(s)
		return nil
	}
	var l []string
	if err := json.Unmarshal(b, &l); err != nil {
		return err
	}
	*t = sanitize.Tags(l)
	return nil
}

// parseTags разбирает значения вида "go, web" или `["go","web"]`.
func parseTags(vals ...string) []string {
	var out []string
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if strings.HasPrefix(v, "[") {
			var l []string
			if json.Unmarshal([]byte(v), &l) == nil {
				out = append(out, l...)
				continue
			}
		}
		out = append(out, strings.Split(v, ",")...)
	}
	return sanitize.Tags(out)
}

func badInput(format string, args ...any) error {
	return domain.E(domain.ErrValidation, "invalid input: "+fmt.Sprintf(format, args...))
}

// validationErr превращает ошибку валидатора в ошибку вида validation.
func validationErr(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return ErrBadInput
	}
	fe := ve[0]
	switch fe.Tag() {
	case "required":
		return badInput("'%s' is required", fe.Field())
	default:
		return badInput("'%s' is not a valid %s", fe.Field(), fe.Tag())
	}
}

// decodeJSON читает тело запроса в dst и проверяет его.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return badInput("malformed JSON body")
	}
	if err := validate.Struct(dst); err != nil {
		return validationErr(err)
	}
	return nil
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

func parseMultipart(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return badInput("malformed multipart form")
	}
	return nil
}

// formFile читает файл из поля формы. Тип содержимого
// определяется по самим данным, заявленный клиентом тип не учитывается.
func formFile(r *http.Request, field string) (*media.File, error) {
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, badInput("reading '%s'", field)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, media.MaxSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading '%s': %w", field, err)
	}
	if len(data) > media.MaxSize {
		return nil, ErrFileTooLarge
	}
	return &media.File{Name: hdr.Filename, ContentType: http.DetectContentType(data), Data: data}, nil
}

// readPost читает пост из JSON или из формы с обложкой coverImage.
func readPost(w http.ResponseWriter, r *http.Request) (postRequest, error) {
	var req postRequest
	if !isMultipart(r) {
		return req, decodeJSON(w, r, &req)
	}
	if err := parseMultipart(w, r); err != nil {
		return req, err
	}
	req.Title = r.FormValue("title")
	req.Content = r.FormValue("content")
	if vals, ok := r.MultipartForm.Value["tags"]; ok {
		req.Tags = parseTags(vals...)
	}
	var err error
	req.cover, err = formFile(r, "coverImage")
	return req, err
}

// readProfile читает изменения профиля из JSON или из формы с аватаром.
func readProfile(w http.ResponseWriter, r *http.Request) (profileRequest, error) {
	var req profileRequest
	if !isMultipart(r) {
		return req, decodeJSON(w, r, &req)
	}
	if err := parseMultipart(w, r); err != nil {
		return req, err
	}
	req.Username = r.FormValue("username")
	var err error
	req.avatar, err = formFile(r, "avatar")
	return req, err
}

// pathID возвращает id из пути запроса, если это UUID.
func pathID(r *http.Request, name string) (string, error) {
	id := mux.Vars(r)[name]
	if _, err := uuid.Parse(id); err != nil {
		return "", badInput("malformed '%s'", name)
	}
	return id, nil
}

// queryInt возвращает числовой параметр запроса, def если его нет.
func queryInt(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, badInput("'%s' must be a number", name)
	}
	return n, nil
}
