package ui

import (
	"context"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// PublicFile represents a single shared file for display.
type PublicFile struct {
	ID          string
	FileName    string
	ContentType string
	Size        int64
	Tags        []string
	CreatedTS   string
}

// Layout renders a full HTML page with a title and body component.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<!DOCTYPE html><html lang=\"en\">")
		if err != nil {
			return err
		}

		// Head
		_, err = io.WriteString(w, "<head><meta charset=\"utf-8\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<title>")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, html.EscapeString(title))
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "</title>")
		if err != nil {
			return err
		}
		// Minimal modern CSS framework (Pico.css) via CDN.
		_, err = io.WriteString(w, "<link rel=\"stylesheet\" href=\"https://unpkg.com/@picocss/pico@2/css/pico.min.css\">")
		if err != nil {
			return err
		}
		// HTMX via CDN.
		_, err = io.WriteString(w, "<script src=\"https://unpkg.com/htmx.org@1.9.12\" integrity=\"sha384-srD8tA5lZgUlAXb/DvBy1UG775H8sG8vyXK3w63U1zrtRXkuTDIaTzGvX2UksI0M\" crossorigin=\"anonymous\"></script>")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "</head>")
		if err != nil {
			return err
		}

		// Body with global htmx boost for links/forms.
		_, err = io.WriteString(w, "<body hx-boost=\"true\"><main class=\"container\">")
		if err != nil {
			return err
		}

		if err := body.Render(ctx, w); err != nil {
			return err
		}

		_, err = io.WriteString(w, "</main></body></html>")
		return err
	})
}

// FilesPage renders the list of publicly shared files.
func FilesPage(apiBase string, files []PublicFile) templ.Component {
	return Layout("File Vault - Public Files", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "<section><header><h1>Public Files</h1>")
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, "<p>Files shared publicly by vault users.</p></header>")
		if err != nil {
			return err
		}

		if len(files) == 0 {
			_, err = io.WriteString(w, "<p>No public files found.</p></section>")
			return err
		}

		_, err = io.WriteString(w, "<table><thead><tr><th>Name</th><th>Type</th><th>Size (bytes)</th><th>Tags</th><th>Uploaded</th></tr></thead><tbody>")
		if err != nil {
			return err
		}

		for _, f := range files {
			link := fmt.Sprintf("%s/file/v1/%s", apiBase, f.ID)
			row := fmt.Sprintf("<tr><td><a href=\"%s\">%s</a></td><td>%s</td><td>%d</td><td>%s</td><td>%s</td></tr>",
				html.EscapeString(link), html.EscapeString(f.FileName), html.EscapeString(f.ContentType), f.Size, html.EscapeString(strings.Join(f.Tags, ", ")), html.EscapeString(f.CreatedTS))
			_, err = io.WriteString(w, row)
			if err != nil {
				return err
			}
		}

		_, err = io.WriteString(w, "</tbody></table></section>")
		return err
	}))
}
