package server

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"bookshare/internal/app"
	"bookshare/internal/storage"
	"bookshare/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mem := store.NewMemoryStore(time.Hour)
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	core, err := app.New(app.Config{Store: mem, Sessions: mem, Files: files})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	srv, err := New(Config{App: core, SessionTTL: time.Hour})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func postForm(t *testing.T, c *http.Client, target string, values url.Values) *http.Response {
	t.Helper()
	resp, err := c.PostForm(target, values)
	if err != nil {
		t.Fatalf("POST %s: %v", target, err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func register(t *testing.T, c *http.Client, base, username, password string) {
	t.Helper()
	resp := postForm(t, c, base+"/register", url.Values{
		"username":        {username},
		"password":        {password},
		"confirmPassword": {password},
	})
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register %s: status %d, body %s", username, resp.StatusCode, body)
	}
}

func uploadBook(t *testing.T, c *http.Client, base, title, author, genre, filename, content string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for field, value := range map[string]string{"title": title, "author": author, "genre": genre} {
		if err := mw.WriteField(field, value); err != nil {
			t.Fatalf("write field %s: %v", field, err)
		}
	}
	fw, err := mw.CreateFormFile("book", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write file part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	resp, err := c.Post(base+"/add-book", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /add-book: %v", err)
	}
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload %q: status %d, body %s", title, resp.StatusCode, body)
	}
}

func bookIDFromCatalog(t *testing.T, c *http.Client, base, title string) string {
	t.Helper()
	resp, err := c.Get(base + "/catalog")
	if err != nil {
		t.Fatalf("GET /catalog: %v", err)
	}
	body := readBody(t, resp)
	// Titles render as the text of their download anchors, so walk the
	// /book/ links and match on the anchor text.
	marker := `href="/book/`
	rest := body
	for {
		start := strings.Index(rest, marker)
		if start < 0 {
			t.Fatalf("catalog has no download link for %q", title)
		}
		rest = rest[start+len(marker):]
		end := strings.Index(rest, `"`)
		if end < 0 {
			t.Fatalf("unterminated download link in catalog")
		}
		id := rest[:end]
		if anchorEnd := strings.Index(rest, "</a>"); anchorEnd > end && strings.Contains(rest[end:anchorEnd], title) {
			return id
		}
	}
}

func TestRegisterLoginFlow(t *testing.T) {
	ts := newTestServer(t)
	alice := newClient(t)

	register(t, alice, ts.URL, "alice", "pw1234")

	// Fresh session is live: the add-book page no longer redirects away.
	resp, err := alice.Get(ts.URL + "/add-book")
	if err != nil {
		t.Fatalf("GET /add-book: %v", err)
	}
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "Add book") {
		t.Fatalf("authenticated add-book page: status %d", resp.StatusCode)
	}

	// Wrong password fails without revealing which part was wrong.
	stranger := newClient(t)
	resp = postForm(t, stranger, ts.URL+"/login", url.Values{
		"username": {"alice"},
		"password": {"wrong"},
	})
	body = readBody(t, resp)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login: status %d, want 401", resp.StatusCode)
	}
	if !strings.Contains(body, "incorrect username or password") {
		t.Fatalf("bad login page missing generic message: %s", body)
	}
	if strings.Contains(body, "invalid password") || strings.Contains(body, "invalid username") {
		t.Fatalf("bad login page leaks which credential failed: %s", body)
	}

	// Correct password signs in.
	resp = postForm(t, stranger, ts.URL+"/login", url.Values{
		"username": {"alice"},
		"password": {"pw1234"},
	})
	readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("good login: status %d", resp.StatusCode)
	}
}

func TestDuplicateUsernameRejected(t *testing.T) {
	ts := newTestServer(t)
	alice := newClient(t)
	register(t, alice, ts.URL, "alice", "pw1234")

	impostor := newClient(t)
	resp := postForm(t, impostor, ts.URL+"/register", url.Values{
		"username":        {"alice"},
		"password":        {"other"},
		"confirmPassword": {"other"},
	})
	readBody(t, resp)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register: status %d, want 409", resp.StatusCode)
	}
}

func TestUploadAppearsInSharedCatalog(t *testing.T) {
	ts := newTestServer(t)
	alice := newClient(t)
	register(t, alice, ts.URL, "alice", "pw1234")
	uploadBook(t, alice, ts.URL, "Dune", "Frank Herbert", "Sci-Fi", "dune.pdf", "sandworms")

	// Visible to anonymous visitors with the owner shown.
	anon := newClient(t)
	resp, err := anon.Get(ts.URL + "/catalog")
	if err != nil {
		t.Fatalf("GET /catalog: %v", err)
	}
	body := readBody(t, resp)
	if !strings.Contains(body, "Dune") {
		t.Fatalf("catalog missing uploaded book: %s", body)
	}
	if !strings.Contains(body, "alice") {
		t.Fatalf("catalog missing owner username: %s", body)
	}

	// File streams back with the original name.
	id := bookIDFromCatalog(t, anon, ts.URL, "Dune")
	resp, err = anon.Get(ts.URL + "/book/" + id)
	if err != nil {
		t.Fatalf("GET /book/%s: %v", id, err)
	}
	if got := resp.Header.Get("Content-Disposition"); !strings.Contains(got, "dune.pdf") {
		t.Fatalf("Content-Disposition = %q, want original filename", got)
	}
	if got := readBody(t, resp); got != "sandworms" {
		t.Fatalf("downloaded content = %q", got)
	}
}

func TestRemoveRequiresOwnership(t *testing.T) {
	ts := newTestServer(t)
	alice := newClient(t)
	register(t, alice, ts.URL, "alice", "pw1234")
	uploadBook(t, alice, ts.URL, "Dune", "Frank Herbert", "Sci-Fi", "dune.pdf", "sandworms")
	id := bookIDFromCatalog(t, alice, ts.URL, "Dune")

	bob := newClient(t)
	register(t, bob, ts.URL, "bob", "hunter2")
	resp := postForm(t, bob, ts.URL+"/remove/"+id, url.Values{})
	readBody(t, resp)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-user remove: status %d, want 403", resp.StatusCode)
	}

	// Dune survives.
	resp, err := bob.Get(ts.URL + "/catalog")
	if err != nil {
		t.Fatalf("GET /catalog: %v", err)
	}
	if body := readBody(t, resp); !strings.Contains(body, "Dune") {
		t.Fatalf("book vanished after forbidden remove: %s", body)
	}

	// The owner can remove it.
	resp = postForm(t, alice, ts.URL+"/remove/"+id, url.Values{})
	readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner remove: status %d", resp.StatusCode)
	}
	resp, err = alice.Get(ts.URL + "/catalog")
	if err != nil {
		t.Fatalf("GET /catalog: %v", err)
	}
	if body := readBody(t, resp); strings.Contains(body, "Dune") {
		t.Fatalf("book still listed after owner remove: %s", body)
	}
}

func TestEditRequiresOwnership(t *testing.T) {
	ts := newTestServer(t)
	alice := newClient(t)
	register(t, alice, ts.URL, "alice", "pw1234")
	uploadBook(t, alice, ts.URL, "Dune", "Frank Herbert", "Sci-Fi", "dune.pdf", "sandworms")
	id := bookIDFromCatalog(t, alice, ts.URL, "Dune")

	bob := newClient(t)
	register(t, bob, ts.URL, "bob", "hunter2")
	resp := postForm(t, bob, ts.URL+"/edit/"+id, url.Values{
		"title": {"Stolen"}, "author": {"bob"}, "genre": {"Theft"},
	})
	readBody(t, resp)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-user edit: status %d, want 403", resp.StatusCode)
	}

	resp = postForm(t, alice, ts.URL+"/edit/"+id, url.Values{
		"title": {"Dune Messiah"}, "author": {"Frank Herbert"}, "genre": {"Sci-Fi"},
	})
	readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner edit: status %d", resp.StatusCode)
	}
	resp, err := alice.Get(ts.URL + "/catalog")
	if err != nil {
		t.Fatalf("GET /catalog: %v", err)
	}
	if body := readBody(t, resp); !strings.Contains(body, "Dune Messiah") {
		t.Fatalf("edit not reflected in catalog: %s", body)
	}
}

func TestSearchMatchesTitleAndGenre(t *testing.T) {
	ts := newTestServer(t)
	alice := newClient(t)
	register(t, alice, ts.URL, "alice", "pw1234")
	uploadBook(t, alice, ts.URL, "Dune", "Frank Herbert", "Sci-Fi", "dune.pdf", "a")
	uploadBook(t, alice, ts.URL, "Emma", "Jane Austen", "Romance", "emma.pdf", "b")

	resp, err := alice.Get(ts.URL + "/search?q=dune")
	if err != nil {
		t.Fatalf("GET /search: %v", err)
	}
	body := readBody(t, resp)
	if !strings.Contains(body, "Dune") || strings.Contains(body, "Emma") {
		t.Fatalf("title search results wrong: %s", body)
	}

	resp, err = alice.Get(ts.URL + "/search?q=romance")
	if err != nil {
		t.Fatalf("GET /search: %v", err)
	}
	body = readBody(t, resp)
	if !strings.Contains(body, "Emma") || strings.Contains(body, "Dune") {
		t.Fatalf("genre search results wrong: %s", body)
	}

	// Blank query matches nothing.
	resp, err = alice.Get(ts.URL + "/search?q=")
	if err != nil {
		t.Fatalf("GET /search: %v", err)
	}
	body = readBody(t, resp)
	if strings.Contains(body, "Dune") || strings.Contains(body, "Emma") {
		t.Fatalf("blank query returned results: %s", body)
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	ts := newTestServer(t)
	alice := newClient(t)
	register(t, alice, ts.URL, "alice", "pw1234")

	resp, err := alice.Get(ts.URL + "/logout")
	if err != nil {
		t.Fatalf("GET /logout: %v", err)
	}
	readBody(t, resp)

	// The add-book page is gated again.
	noRedirect := &http.Client{
		Jar: alice.Jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err = noRedirect.Get(ts.URL + "/add-book")
	if err != nil {
		t.Fatalf("GET /add-book: %v", err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("add-book after logout: status %d, want 302", resp.StatusCode)
	}
	if got := resp.Header.Get("Location"); got != "/catalog" {
		t.Fatalf("redirect target = %q, want /catalog", got)
	}
}

func TestAnonymousCannotUpload(t *testing.T) {
	ts := newTestServer(t)
	anon := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := anon.Get(ts.URL + "/add-book")
	if err != nil {
		t.Fatalf("GET /add-book: %v", err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("anonymous add-book: status %d, want 302", resp.StatusCode)
	}
}

func TestUploadRequiresTitleAndFile(t *testing.T) {
	ts := newTestServer(t)
	alice := newClient(t)
	register(t, alice, ts.URL, "alice", "pw1234")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("title", "No File"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	resp, err := alice.Post(ts.URL+"/add-book", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /add-book: %v", err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing file upload: status %d, want 400", resp.StatusCode)
	}
}

func TestExtensionAllowlist(t *testing.T) {
	mem := store.NewMemoryStore(time.Hour)
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	core, err := app.New(app.Config{Store: mem, Sessions: mem, Files: files})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	srv, err := New(Config{App: core, AllowedExtensions: []string{".pdf", "epub"}})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	alice := newClient(t)
	register(t, alice, ts.URL, "alice", "pw1234")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("title", "Malware"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	fw, err := mw.CreateFormFile("book", "payload.exe")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte("nope")); err != nil {
		t.Fatalf("write file part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	resp, err := alice.Post(ts.URL+"/add-book", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /add-book: %v", err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("disallowed extension: status %d, want 400", resp.StatusCode)
	}

	uploadBook(t, alice, ts.URL, "Fine", "Someone", "Tech", "fine.epub", "ok")
}
