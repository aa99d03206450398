package endpoints

import (
	"net/http"

	"moniteur/internal/query"
	"moniteur/internal/util"
)

const robotsBody = "User-agent: *\nDisallow: /\n"

// Assets serves the current registry. Params stay server-side.
type Assets struct {
	Response APIResponse
	logger   *util.MetricsLogger
	service  *query.Service
}

func (a *Assets) Init(service *query.Service, webSlogger *util.MetricsLogger) {
	a.service = service
	a.logger = webSlogger
}

func (a *Assets) GetAssetsHandler(w http.ResponseWriter, r *http.Request) {
	assets := a.service.Assets()
	a.logger.LogEvent(util.LOG_LEVEL_DEBUG, "Serving assets.json. count -", len(assets))
	a.Response.WriteResultResponse(w, assets)
}

func RobotsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(robotsBody))
}
