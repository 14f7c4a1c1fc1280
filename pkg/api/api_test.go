package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rtemka/lumina/domain"
	"github.com/rtemka/lumina/pkg/auth"
	"github.com/rtemka/lumina/pkg/media"
	"github.com/rtemka/lumina/pkg/memdb"
	"github.com/rtemka/lumina/pkg/metrics"
	"github.com/rtemka/lumina/pkg/service"
	"go.uber.org/zap"
)

const clientURL = "http://client.test"

// envelope - ответ API.
type envelope struct {
	Response json.RawMessage `json:"response"`
	Error    string          `json:"error"`
}

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	tokens, err := auth.NewTokens("test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	disk, err := media.NewDisk(t.TempDir(), "http://files.test")
	if err != nil {
		t.Fatal(err)
	}
	svc := service.New(memdb.New(), tokens, service.WithMedia(disk))

	opts.ClientURL = clientURL
	opts.UploadsDir = disk.Dir()
	ts := httptest.NewServer(New(svc, zap.NewNop(), opts))
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, req *http.Request, token string) (int, envelope) {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("API() = err %v", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("API() %s %s: decoding body: %v", req.Method, req.URL.Path, err)
	}
	return resp.StatusCode, env
}

func call(t *testing.T, ts *httptest.Server, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	return do(t, req, token)
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Response, &v); err != nil {
		t.Fatalf("decoding response %s: %v", env.Response, err)
	}
	return v
}

func wantStatus(t *testing.T, got, want int, env envelope) {
	t.Helper()
	if got != want {
		t.Fatalf("API() = response code %d (%q), want %d", got, env.Error, want)
	}
}

func register(t *testing.T, ts *httptest.Server, name string) service.Session {
	t.Helper()
	code, env := call(t, ts, http.MethodPost, "/auth/register", "", map[string]string{
		"username": name, "email": name + "@example.com", "password": "password",
	})
	wantStatus(t, code, http.StatusCreated, env)
	return decode[service.Session](t, env)
}

func createPost(t *testing.T, ts *httptest.Server, token, title string) domain.Post {
	t.Helper()
	code, env := call(t, ts, http.MethodPost, "/posts", token, map[string]any{
		"title": title, "content": "<p>Long enough content for a post.</p>", "tags": "go, web",
	})
	wantStatus(t, code, http.StatusCreated, env)
	return decode[domain.Post](t, env)
}

func TestAPI_CommentFlow(t *testing.T) {
	ts := newTestServer(t, Options{})

	a := register(t, ts, "alice")
	b := register(t, ts, "bob")
	c := register(t, ts, "carol")
	p := createPost(t, ts, a.Token, "Alice's post")

	if want := []string{"go", "web"}; strings.Join(p.Tags, ",") != strings.Join(want, ",") {
		t.Fatalf("API() tags = %v, want %v", p.Tags, want)
	}

	commentsPath := "/posts/" + p.ID + "/comments"
	feedPath := "/users/" + a.User.ID + "/notifications"

	code, env := call(t, ts, http.MethodPost, commentsPath, b.Token, map[string]string{"content": "Nice read"})
	wantStatus(t, code, http.StatusCreated, env)
	c1 := decode[domain.Comment](t, env)
	if c1.IsOwnerReply || c1.Author.Username != "bob" {
		t.Fatalf("API() comment = %+v", c1)
	}

	t.Run("feed", func(t *testing.T) {
		code, env := call(t, ts, http.MethodGet, feedPath, a.Token, nil)
		wantStatus(t, code, http.StatusOK, env)
		feed := decode[[]domain.Notification](t, env)
		if len(feed) != 1 || feed[0].ID != c1.ID || feed[0].Post.Title != p.Title || feed[0].Author.ID != b.User.ID {
			t.Fatalf("API() feed = %+v", feed)
		}

		code, env = call(t, ts, http.MethodGet, feedPath, b.Token, nil)
		wantStatus(t, code, http.StatusForbidden, env)

		code, env = call(t, ts, http.MethodGet, feedPath+"?limit=many", a.Token, nil)
		wantStatus(t, code, http.StatusBadRequest, env)
	})

	t.Run("mark_read", func(t *testing.T) {
		path := commentsPath + "/" + c1.ID + "/read"

		code, env := call(t, ts, http.MethodPatch, path, b.Token, nil)
		wantStatus(t, code, http.StatusForbidden, env)

		for i := 0; i < 2; i++ {
			code, env = call(t, ts, http.MethodPatch, path, a.Token, nil)
			wantStatus(t, code, http.StatusOK, env)
			st := decode[service.ReadState](t, env)
			if len(st.ReadBy) != 1 || st.ReadBy[0] != a.User.ID {
				t.Fatalf("API() read state = %+v", st)
			}
		}

		code, env = call(t, ts, http.MethodGet, feedPath, a.Token, nil)
		wantStatus(t, code, http.StatusOK, env)
		if feed := decode[[]domain.Notification](t, env); len(feed) != 0 {
			t.Fatalf("API() feed = %+v, want empty", feed)
		}
	})

	t.Run("replies", func(t *testing.T) {
		code, env := call(t, ts, http.MethodPost, commentsPath, a.Token,
			map[string]string{"content": "Thanks!", "parent_id": c1.ID})
		wantStatus(t, code, http.StatusCreated, env)
		reply := decode[domain.Comment](t, env)
		if !reply.IsOwnerReply {
			t.Fatalf("API() reply = %+v, want owner reply", reply)
		}

		code, env = call(t, ts, http.MethodPost, commentsPath, a.Token,
			map[string]string{"content": "deeper", "parent_id": reply.ID})
		wantStatus(t, code, http.StatusBadRequest, env)
		if env.Error != domain.ErrNestingTooDeep.Error() {
			t.Fatalf("API() error = %q, want %q", env.Error, domain.ErrNestingTooDeep.Error())
		}

		code, env = call(t, ts, http.MethodPost, commentsPath, c.Token,
			map[string]string{"content": "me too", "parent_id": c1.ID})
		wantStatus(t, code, http.StatusForbidden, env)

		code, env = call(t, ts, http.MethodPost, commentsPath, b.Token, map[string]string{"content": "   "})
		wantStatus(t, code, http.StatusBadRequest, env)

		code, env = call(t, ts, http.MethodPost, commentsPath, b.Token,
			map[string]string{"content": "hi", "parent_id": "not-a-uuid"})
		wantStatus(t, code, http.StatusBadRequest, env)

		code, env = call(t, ts, http.MethodGet, commentsPath, "", nil)
		wantStatus(t, code, http.StatusOK, env)
		threads := decode[[]domain.Thread](t, env)
		if len(threads) != 1 || len(threads[0].Replies) != 1 || threads[0].Replies[0].ID != reply.ID {
			t.Fatalf("API() threads = %+v", threads)
		}

		code, env = call(t, ts, http.MethodGet, "/posts/"+p.ID, "", nil)
		wantStatus(t, code, http.StatusOK, env)
		details := decode[service.PostDetails](t, env)
		if details.Post.CommentCount != 1 {
			t.Fatalf("API() comment_count = %d, want 1", details.Post.CommentCount)
		}
	})
}

func TestAPI_FeedLimit(t *testing.T) {
	ts := newTestServer(t, Options{})

	a := register(t, ts, "alice")
	b := register(t, ts, "bob")
	p := createPost(t, ts, a.Token, "Alice's post")

	for _, text := range []string{"first", "second", "third"} {
		code, env := call(t, ts, http.MethodPost, "/posts/"+p.ID+"/comments", b.Token, map[string]string{"content": text})
		wantStatus(t, code, http.StatusCreated, env)
	}

	feedPath := "/users/" + a.User.ID + "/notifications"
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{name: "absent", query: "", want: 3},
		{name: "zero", query: "?limit=0", want: 1},
		{name: "negative", query: "?limit=-5", want: 1},
		{name: "two", query: "?limit=2", want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := call(t, ts, http.MethodGet, feedPath+tt.query, a.Token, nil)
			wantStatus(t, code, http.StatusOK, env)
			if feed := decode[[]domain.Notification](t, env); len(feed) != tt.want {
				t.Fatalf("API() feed len = %d, want %d", len(feed), tt.want)
			}
		})
	}
}

func TestAPI_Errors(t *testing.T) {
	ts := newTestServer(t, Options{})
	a := register(t, ts, "alice")
	missing := "/posts/00000000-0000-0000-0000-000000000000"

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{name: "malformed_id", method: http.MethodGet, path: "/posts/42", want: http.StatusBadRequest},
		{name: "missing_post", method: http.MethodGet, path: missing, want: http.StatusNotFound},
		{name: "missing_comments", method: http.MethodGet, path: missing + "/comments", want: http.StatusNotFound},
		{name: "no_token", method: http.MethodPost, path: "/posts", body: map[string]string{}, want: http.StatusUnauthorized},
		{name: "bad_token", method: http.MethodPost, path: "/posts", token: "garbage", want: http.StatusUnauthorized},
		{name: "bad_page", method: http.MethodGet, path: "/posts?page=x", want: http.StatusBadRequest},
		{name: "duplicate_user", method: http.MethodPost, path: "/auth/register",
			body: map[string]string{"username": "alice", "email": "other@example.com", "password": "password"},
			want: http.StatusConflict},
		{name: "bad_email", method: http.MethodPost, path: "/auth/register",
			body: map[string]string{"username": "bobby", "email": "bobby", "password": "password"},
			want: http.StatusBadRequest},
		{name: "long_password", method: http.MethodPost, path: "/auth/register",
			body: map[string]string{"username": "bobby", "email": "bobby@example.com", "password": strings.Repeat("p", 73)},
			want: http.StatusBadRequest},
		{name: "wrong_password", method: http.MethodPost, path: "/auth/login",
			body: map[string]string{"email": "alice@example.com", "password": "nope"}, want: http.StatusUnauthorized},
		{name: "short_title", method: http.MethodPost, path: "/posts", token: a.Token,
			body: map[string]string{"title": "ab", "content": "<p>long enough content here</p>"}, want: http.StatusBadRequest},
		{name: "comment_missing_post", method: http.MethodPost, path: missing + "/comments", token: a.Token,
			body: map[string]string{"content": "hi"}, want: http.StatusNotFound},
		{name: "not_self", method: http.MethodPatch, path: "/users/00000000-0000-0000-0000-000000000000",
			token: a.Token, body: map[string]string{"username": "mallory"}, want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := call(t, ts, tt.method, tt.path, tt.token, tt.body)
			wantStatus(t, code, tt.want, env)
			if env.Error == "" {
				t.Fatalf("API() error message is empty")
			}
		})
	}

	t.Run("malformed_json", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/auth/login", strings.NewReader("{"))
		code, env := do(t, req, "")
		wantStatus(t, code, http.StatusBadRequest, env)
	})
}

func TestAPI_Posts(t *testing.T) {
	ts := newTestServer(t, Options{})
	a := register(t, ts, "alice")
	b := register(t, ts, "bob")

	var ids []string
	for _, title := range []string{"Go basics", "Web things", "Advanced Go", "Cooking"} {
		ids = append(ids, createPost(t, ts, a.Token, title).ID)
	}

	code, env := call(t, ts, http.MethodGet, "/posts?limit=3&page=2", "", nil)
	wantStatus(t, code, http.StatusOK, env)
	list := decode[service.PostList](t, env)
	if len(list.Posts) != 1 || list.Posts[0].ID != ids[0] {
		t.Fatalf("API() posts = %+v", list.Posts)
	}
	if list.Pagination != (service.Pagination{Total: 4, Page: 2, Pages: 2}) {
		t.Fatalf("API() pagination = %+v", list.Pagination)
	}

	code, env = call(t, ts, http.MethodGet, "/posts?search="+url.QueryEscape("GO"), "", nil)
	wantStatus(t, code, http.StatusOK, env)
	if list = decode[service.PostList](t, env); len(list.Posts) != 2 {
		t.Fatalf("API() search = %d posts, want 2", len(list.Posts))
	}

	code, env = call(t, ts, http.MethodPut, "/posts/"+ids[0], b.Token, map[string]string{"title": "Mine now"})
	wantStatus(t, code, http.StatusForbidden, env)

	code, env = call(t, ts, http.MethodPut, "/posts/"+ids[0], a.Token, map[string]any{"title": "Go basics, updated", "tags": []string{}})
	wantStatus(t, code, http.StatusOK, env)
	if p := decode[domain.Post](t, env); p.Title != "Go basics, updated" || len(p.Tags) != 0 {
		t.Fatalf("API() updated = %+v", p)
	}

	for i, want := range []service.LikeState{{Likes: 1, Liked: true}, {Likes: 0, Liked: false}} {
		code, env = call(t, ts, http.MethodPost, "/posts/"+ids[1]+"/like", b.Token, nil)
		wantStatus(t, code, http.StatusOK, env)
		if got := decode[service.LikeState](t, env); got != want {
			t.Fatalf("API() like #%d = %+v, want %+v", i, got, want)
		}
	}

	code, env = call(t, ts, http.MethodDelete, "/posts/"+ids[1], b.Token, nil)
	wantStatus(t, code, http.StatusForbidden, env)
	code, env = call(t, ts, http.MethodDelete, "/posts/"+ids[1], a.Token, nil)
	wantStatus(t, code, http.StatusOK, env)
	code, env = call(t, ts, http.MethodGet, "/posts/"+ids[1], "", nil)
	wantStatus(t, code, http.StatusNotFound, env)

	code, env = call(t, ts, http.MethodGet, "/users/"+a.User.ID, "", nil)
	wantStatus(t, code, http.StatusOK, env)
	if pr := decode[service.Profile](t, env); pr.User.ID != a.User.ID || len(pr.Posts) != 3 {
		t.Fatalf("API() profile = %+v", pr)
	}
}

// pngData - минимальные данные, которые определяются как image/png.
var pngData = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR fake image body")

func multipartBody(t *testing.T, fields map[string]string, fileField, fileName string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, fileName)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write(data)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestAPI_Uploads(t *testing.T) {
	ts := newTestServer(t, Options{})
	a := register(t, ts, "alice")

	body, ct := multipartBody(t, map[string]string{
		"title":   "With a cover",
		"content": "<p>Post content that is long enough.</p>",
		"tags":    `["Go","go","photos"]`,
	}, "coverImage", "my cover.png", pngData)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/posts", body)
	req.Header.Set("Content-Type", ct)
	code, env := do(t, req, a.Token)
	wantStatus(t, code, http.StatusCreated, env)
	p := decode[domain.Post](t, env)
	if strings.Join(p.Tags, ",") != "go,photos" {
		t.Fatalf("API() tags = %v", p.Tags)
	}

	u, err := url.Parse(p.CoverImage)
	if err != nil || !strings.HasPrefix(u.Path, "/uploads/") {
		t.Fatalf("API() cover_image = %q", p.CoverImage)
	}
	resp, err := http.Get(ts.URL + u.Path)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !bytes.Equal(got, pngData) {
		t.Fatalf("GET %s = %d, %d bytes", u.Path, resp.StatusCode, len(got))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("GET %s Content-Type = %q, want image/png", u.Path, ct)
	}

	body, ct = multipartBody(t, map[string]string{"username": "alicia"}, "avatar", "evil.png", []byte("<html><script>x</script>"))
	req, _ = http.NewRequest(http.MethodPatch, ts.URL+"/users/"+a.User.ID, body)
	req.Header.Set("Content-Type", ct)
	code, env = do(t, req, a.Token)
	wantStatus(t, code, http.StatusBadRequest, env)

	body, ct = multipartBody(t, map[string]string{"username": "alicia"}, "avatar", "me.png", pngData)
	req, _ = http.NewRequest(http.MethodPatch, ts.URL+"/users/"+a.User.ID, body)
	req.Header.Set("Content-Type", ct)
	code, env = do(t, req, a.Token)
	wantStatus(t, code, http.StatusOK, env)
	if user := decode[domain.User](t, env); user.Username != "alicia" || user.Avatar == "" {
		t.Fatalf("API() user = %+v", user)
	}
}

func TestAPI_Middleware(t *testing.T) {
	ts := newTestServer(t, Options{})

	t.Run("preflight", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/posts", nil)
		req.Header.Set("Origin", clientURL)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("OPTIONS = %d, want %d", resp.StatusCode, http.StatusNoContent)
		}
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != clientURL {
			t.Fatalf("Access-Control-Allow-Origin = %q, want %q", got, clientURL)
		}
	})

	t.Run("headers", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/health?request-id=abc")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		for k, want := range map[string]string{
			"Content-Type":           "application/json;charset=utf-8",
			"X-Content-Type-Options": "nosniff",
			"X-Request-Id":           "abc",
		} {
			if got := resp.Header.Get(k); got != want {
				t.Errorf("%s = %q, want %q", k, got, want)
			}
		}
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Access-Control-Allow-Origin = %q without Origin", got)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/metrics")
		if err != nil {
			t.Fatal(err)
		}
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if !strings.Contains(string(b), `route="/health"`) {
			t.Fatalf("/metrics has no /health requests:\n%s", b)
		}
	})
}

func TestAPI_MetricsOnPanic(t *testing.T) {
	m := metrics.New()
	api := &API{opts: Options{Metrics: m}}
	h := api.metricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	func() {
		defer func() {
			if rec := recover(); rec != "boom" {
				t.Fatalf("recover() = %v, want %q", rec, "boom")
			}
		}()
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/posts", nil))
	}()

	want := `
# HELP lumina_http_requests_in_flight Number of HTTP requests being served.
# TYPE lumina_http_requests_in_flight gauge
lumina_http_requests_in_flight 0
# HELP lumina_http_requests_total Number of HTTP requests by route, method and status code.
# TYPE lumina_http_requests_total counter
lumina_http_requests_total{code="500",method="GET",route="unmatched"} 1
`
	err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(want),
		"lumina_http_requests_in_flight", "lumina_http_requests_total")
	if err != nil {
		t.Fatal(err)
	}
}

func TestAPI_RateLimit(t *testing.T) {
	ts := newTestServer(t, Options{RateLimit: 0.001, Burst: 2})

	var codes []int
	for i := 0; i < 3; i++ {
		resp, err := http.Get(ts.URL + "/health")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		codes = append(codes, resp.StatusCode)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v, want [200 200 429]", codes)
	}
}

func TestIPLimiter_Sweep(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := newIPLimiter(1, 1)
	l.now = func() time.Time { return now }

	if !l.allow("10.0.0.1") || l.allow("10.0.0.1") {
		t.Fatal("allow() must pass the first request and block the second")
	}
	now = now.Add(10 * time.Minute)
	l.allow("10.0.0.2")
	if _, ok := l.visitors["10.0.0.1"]; ok {
		t.Fatal("stale visitor was not removed")
	}
}
