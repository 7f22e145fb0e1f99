package server

import (
	"fmt"
	"html/template"
	"net/http"

	"bookshare/pkg/domain"
)

// viewData is the context handed to every page template.
type viewData struct {
	User    *domain.PublicUser
	Books   []domain.CatalogEntry
	Book    domain.Book
	Query   string
	Message string
}

const layoutTmpl = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>bookshare</title>
</head>
<body>
<nav>
<a href="/catalog">Catalog</a>
<a href="/search">Search</a>
{{if .User}}
<a href="/add-book">Add book</a>
<a href="/logout">Log out ({{.User.Username}})</a>
{{else}}
<a href="/login">Log in</a>
<a href="/register">Register</a>
{{end}}
</nav>
<main>{{template "content" .}}</main>
</body>
</html>`

var pageTmpls = map[string]string{
	"home": `{{define "content"}}
<h1>Catalog</h1>
<ul>
{{range .Books}}
<li>
<a href="/book/{{.ID}}">{{.Title}}</a>
{{if .Author}} by {{.Author}}{{end}}
{{if .Genre}} - {{.Genre}}{{end}}
(shared by {{.OwnerUsername}})
{{if $.User}}{{if eq $.User.ID .OwnerID}}
<a href="/edit/{{.ID}}">edit</a>
<form method="POST" action="/remove/{{.ID}}"><button type="submit">remove</button></form>
{{end}}{{end}}
</li>
{{else}}
<li>No books shared yet.</li>
{{end}}
</ul>
{{end}}`,
	"search": `{{define "content"}}
<h1>Search</h1>
<form method="GET" action="/search">
<input type="text" name="q" value="{{.Query}}">
<button type="submit">Search</button>
</form>
<ul>
{{range .Books}}
<li><a href="/book/{{.ID}}">{{.Title}}</a>{{if .Genre}} - {{.Genre}}{{end}} (shared by {{.OwnerUsername}})</li>
{{else}}
{{if .Query}}<li>No matches for "{{.Query}}".</li>{{end}}
{{end}}
</ul>
{{end}}`,
	"login": `{{define "content"}}
<h1>Log in</h1>
<form method="POST" action="/login">
<input type="text" name="username" placeholder="username">
<input type="password" name="password" placeholder="password">
<button type="submit">Log in</button>
</form>
{{end}}`,
	"register": `{{define "content"}}
<h1>Register</h1>
<form method="POST" action="/register">
<input type="text" name="username" placeholder="username">
<input type="password" name="password" placeholder="password">
<input type="password" name="confirmPassword" placeholder="confirm password">
<button type="submit">Register</button>
</form>
{{end}}`,
	"add-book": `{{define "content"}}
<h1>Add book</h1>
<form method="POST" action="/add-book" enctype="multipart/form-data">
<input type="text" name="title" placeholder="title">
<input type="text" name="author" placeholder="author">
<input type="text" name="genre" placeholder="genre">
<input type="file" name="book">
<button type="submit">Upload</button>
</form>
{{end}}`,
	"edit-book": `{{define "content"}}
<h1>Edit book</h1>
<form method="POST" action="/edit/{{.Book.ID}}">
<input type="text" name="title" value="{{.Book.Title}}">
<input type="text" name="author" value="{{.Book.Author}}">
<input type="text" name="genre" value="{{.Book.Genre}}">
<button type="submit">Save</button>
</form>
{{end}}`,
	"error": `{{define "content"}}
<h1>Something went wrong</h1>
<p>{{.Message}}</p>
<p><a href="/catalog">Back to the catalog</a></p>
{{end}}`,
	"not-found": `{{define "content"}}
<h1>Page not found</h1>
<p><a href="/catalog">Back to the catalog</a></p>
{{end}}`,
}

// Renderer is the HTML view collaborator. Templates are compiled once at
// construction.
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer compiles all page templates against the shared layout.
func NewRenderer() (*Renderer, error) {
	layout, err := template.New("layout").Parse(layoutTmpl)
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	pages := make(map[string]*template.Template, len(pageTmpls))
	for name, content := range pageTmpls {
		page, err := layout.Clone()
		if err != nil {
			return nil, fmt.Errorf("clone layout: %w", err)
		}
		if _, err := page.Parse(content); err != nil {
			return nil, fmt.Errorf("parse page %s: %w", name, err)
		}
		pages[name] = page
	}
	return &Renderer{pages: pages}, nil
}

// Render writes the named page with the given status.
func (v *Renderer) Render(w http.ResponseWriter, status int, name string, data viewData) {
	page, ok := v.pages[name]
	if !ok {
		http.Error(w, "view not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = page.Execute(w, data)
}
