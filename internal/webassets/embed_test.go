package webassets

import (
	"io/fs"
	"strings"
	"testing"
)

func TestTemplatesFS_HasTemplates(t *testing.T) {
	fsys := TemplatesFS()
	for _, name := range []string{"index.html", "notification.html", "download.html"} {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		define := `{{define "` + strings.TrimSuffix(name, ".html") + `"}}`
		if !strings.Contains(string(data), define) {
			t.Errorf("%s should define %s", name, define)
		}
	}
}

func TestStaticFS(t *testing.T) {
	css, ok := StaticFS("css")
	if !ok {
		t.Fatal("css mount missing")
	}
	if _, err := fs.Stat(css, "style.css"); err != nil {
		t.Fatalf("style.css: %v", err)
	}

	js, ok := StaticFS("js")
	if !ok {
		t.Fatal("js mount missing")
	}
	if _, err := fs.Stat(js, "app.js"); err != nil {
		t.Fatalf("app.js: %v", err)
	}

	if _, ok := StaticFS("nope"); ok {
		t.Fatal("unknown mount should report false")
	}
}

func TestIndexLoadsOnlySameOriginScript(t *testing.T) {
	data, err := fs.ReadFile(TemplatesFS(), "index.html")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `<script src="/js/app.js"`) {
		t.Fatal("index should load /js/app.js")
	}
	if strings.Contains(string(data), `<script src="http`) {
		t.Fatal("index should not load cross-origin scripts")
	}
}
