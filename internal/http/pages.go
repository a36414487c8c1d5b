package http

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"go.uber.org/zap"

	"gatepro/portal/internal/catalog"
	"gatepro/portal/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageNames = []string{"landing", "login", "signup", "dashboard", "topic", "search"}

// pageData is shared by every page; each page reads the fields it needs.
type pageData struct {
	Title   string
	User    *model.User
	Home    string
	Menus   catalog.Menus
	Query   string
	Year    int
	Notice  string
	Errors  fieldErrors
	Form    map[string]string
	Roles   []model.Role
	Topics  []catalog.Link
	Topic   catalog.Link
	Results []catalog.Link
	Role    model.Role
	Tagline string
	Pending bool
}

func parsePages() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.New(name).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		pages[name] = tmpl
	}
	return pages, nil
}

func (s *Server) newPage(title string, user *model.User) pageData {
	data := pageData{
		Title:  title,
		User:   user,
		Menus:  catalog.DefaultMenus(),
		Year:   time.Now().Year(),
		Errors: fieldErrors{},
		Form:   map[string]string{},
	}
	if user != nil {
		if home := user.NormalizedRole().HomePath(); home != "/" {
			data.Home = home
		}
	}
	return data
}

// render executes into a buffer first so a template error still produces a
// clean 500 response.
func (s *Server) render(w http.ResponseWriter, status int, name string, data pageData) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.log.Error("unknown page", zap.String("page", name))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		s.log.Error("render page", zap.String("page", name), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func dashboardTagline(role model.Role) string {
	switch role {
	case model.RoleAdmin:
		return "Manage GATEPro AI here."
	case model.RoleTeacher:
		return "Manage your teaching tools here."
	default:
		return "Access your learning resources here."
	}
}
