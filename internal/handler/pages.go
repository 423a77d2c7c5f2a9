package handler

import (
	"html/template"
	"net/http"

	"github.com/rs/zerolog/log"
)

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; background: #f5f5f7; color: #1d1d1f; display: flex; align-items: center; justify-content: center; min-height: 100vh; margin: 0; }
main { background: #fff; border-radius: 12px; padding: 32px 40px; max-width: 420px; box-shadow: 0 2px 12px rgba(0, 0, 0, 0.08); text-align: center; }
h1 { font-size: 1.4rem; margin: 0 0 12px; }
h1.ok { color: #1a7f37; }
h1.fail { color: #cf222e; }
p { line-height: 1.5; margin: 0; }
p.detail { margin-top: 12px; color: #6e6e73; font-size: 0.9rem; word-break: break-word; }
</style>
</head>
<body>
<main>
<h1 class="{{if .Success}}ok{{else}}fail{{end}}">{{.Heading}}</h1>
<p>{{.Message}}</p>
{{if .Detail}}<p class="detail">{{.Detail}}</p>{{end}}
</main>
</body>
</html>
`))

type callbackPageData struct {
	Title   string
	Heading string
	Message string
	Detail  string
	Success bool
}

var (
	pageConnected = callbackPageData{
		Title:   "Connected",
		Heading: "Connected",
		Message: "Your account is linked. You can close this window and return to the app.",
		Success: true,
	}
	pageAlreadyConnected = callbackPageData{
		Title:   "Already connected",
		Heading: "Already connected",
		Message: "This pairing was already completed. You can close this window.",
		Success: true,
	}
	pageNotRecognized = callbackPageData{
		Title:   "Session not recognized",
		Heading: "Session not recognized",
		Message: "This pairing session has expired or does not exist. Start pairing again from the app.",
	}
	pageFailed = callbackPageData{
		Title:   "Authorization failed",
		Heading: "Authorization failed",
		Message: "The account could not be linked. Start pairing again from the app.",
	}
	pageBadRequest = callbackPageData{
		Title:   "Invalid request",
		Heading: "Invalid request",
		Message: "The authorization response was incomplete. Start pairing again from the app.",
	}
	pageError = callbackPageData{
		Title:   "Something went wrong",
		Heading: "Something went wrong",
		Message: "Pairing could not be completed. Please try again in a moment.",
	}
)

func renderPage(w http.ResponseWriter, status int, data callbackPageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := callbackPage.Execute(w, data); err != nil {
		log.Error().Err(err).Msg("failed to render callback page")
	}
}
