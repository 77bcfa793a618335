package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"helpbot/internal/app"
	"helpbot/internal/dataset"
	"helpbot/internal/dialogue"
	"helpbot/internal/domain"
	"helpbot/internal/endpoint"
	"helpbot/internal/registry"
)

const Version = "0.3.0"

// Config for the HTTP API handler.
type Config struct {
	Services      *app.Services
	Conversations *app.Conversations
	BasePath      string
	Auth          AuthConfig
	// Metrics is served at /metrics. Nil uses the default Prometheus registry.
	Metrics http.Handler
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"backend_unreachable"`
	Message string         `json:"message" example:"backend unreachable"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"endpoint\":\"/search\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the assistant API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Services == nil {
		return nil, errors.New("server: services required")
	}
	if cfg.Conversations == nil {
		cfg.Conversations = app.NewConversations(cfg.Services, cfg.Services.Config.Server.SessionTTL)
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Services.Logger
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Helpbot API", Version)
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	metricsHandler := cfg.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.Method(http.MethodGet, "/metrics", metricsHandler)

	h := handlers{svc: cfg.Services, convs: cfg.Conversations}
	registerDocs(router, basePath)
	registerHealth(group, h)
	registerBackend(group, h)
	registerSessions(group, h)
	registerTurns(group, h)
	registerView(group, h)
	registerEvents(group, h)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

type handlers struct {
	svc   *app.Services
	convs *app.Conversations
}

func (h handlers) conversation(ctx context.Context, id string) (*app.Conversation, error) {
	return h.convs.Get(id, ownerFromContext(ctx))
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, app.ErrConversationNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, app.ErrForbidden) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	if errors.Is(err, endpoint.ErrUnreachable) {
		return newAPIError(http.StatusServiceUnavailable, "backend_unreachable", err.Error(), nil)
	}
	var me *registry.MalformedError
	if errors.As(err, &me) {
		return newAPIError(http.StatusBadGateway, "backend_malformed", err.Error(), map[string]any{"endpoint": me.Endpoint})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	// Sign-in is optional, so an empty requirement is listed as well.
	security := []map[string][]string{
		{"bearerAuth": {}},
		{},
	}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Helpbot API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Sign in with Authorization: Bearer &lt;token&gt; to keep sessions private.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Reports the cached backend health. It never probes.",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{
			Status:   "ok",
			Backend:  h.svc.Endpoint.Health(),
			Fresh:    h.svc.Endpoint.Fresh(),
			Sessions: h.convs.Len(),
		}}, nil
	})
}

func (h handlers) backendResponse() BackendResponse {
	ep := h.svc.Endpoint
	return BackendResponse{
		Current:    ep.CurrentBase(),
		Candidates: ep.Candidates(),
		Health:     ep.Health(),
		Fresh:      ep.Fresh(),
	}
}

func registerBackend(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "get-backend",
		Method:      http.MethodGet,
		Path:        "/backend",
		Summary:     "Show the backend base address",
	}, func(ctx context.Context, input *struct {
		Probe bool `query:"probe"`
	}) (*struct {
		Body BackendResponse `json:"body"`
	}, error) {
		if input.Probe {
			if _, err := h.svc.Endpoint.EnsureHealthy(ctx, true); err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body BackendResponse `json:"body"`
		}{Body: h.backendResponse()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-backend",
		Method:      http.MethodPut,
		Path:        "/backend",
		Summary:     "Override the backend base address",
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body SetBackendRequest `json:"body"`
	}) (*struct {
		Body BackendResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Base) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "base required", nil)
		}
		if err := h.svc.Endpoint.SetBase(ctx, input.Body.Base); err != nil {
			return nil, handleError(err)
		}
		if input.Body.Probe {
			if _, err := h.svc.Endpoint.EnsureHealthy(ctx, true); err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body BackendResponse `json:"body"`
		}{Body: h.backendResponse()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "discover-backend",
		Method:      http.MethodPost,
		Path:        "/backend/discover",
		Summary:     "Probe every candidate and adopt the first healthy one",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body DiscoverResponse `json:"body"`
	}, error) {
		base, ok := h.svc.Endpoint.AutoDiscover(ctx)
		return &struct {
			Body DiscoverResponse `json:"body"`
		}{Body: DiscoverResponse{Adopted: ok, Base: base, BackendResponse: h.backendResponse()}}, nil
	})
}

func registerSessions(api huma.API, h handlers) {
	type sessionPath struct {
		ID string `path:"id"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Open a conversation",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		c := h.convs.Open(ctx, ownerFromContext(ctx))
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(c, dialogue.WelcomeHint)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List visible conversations",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []SessionResponse `json:"body"`
	}, error) {
		items := h.convs.List(ownerFromContext(ctx))
		out := make([]SessionResponse, 0, len(items))
		for _, c := range items {
			out = append(out, sessionResponse(c, ""))
		}
		return &struct {
			Body []SessionResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Get a conversation's state",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		c, err := h.conversation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(c, "")}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "close-session",
		Method:        http.MethodDelete,
		Path:          "/sessions/{id}",
		Summary:       "Close a conversation",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *sessionPath) (*struct{}, error) {
		if err := h.convs.Close(ctx, input.ID, ownerFromContext(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTurns(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "send-message",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/messages",
		Summary:     "Send a free-text turn",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body MessageRequest `json:"body"`
	}) (*struct {
		Body TurnResponse `json:"body"`
	}, error) {
		c, err := h.conversation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		replies := c.Text(ctx, input.Body.Text)
		return &struct {
			Body TurnResponse `json:"body"`
		}{Body: turnResponse(c, replies)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pick-option",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/picks",
		Summary:     "Choose one of the offered options",
		Description: "Index is zero-based into the options of the last options reply.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID   string      `path:"id"`
		Body PickRequest `json:"body"`
	}) (*struct {
		Body TurnResponse `json:"body"`
	}, error) {
		c, err := h.conversation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		replies := c.Pick(ctx, input.Body.Index)
		return &struct {
			Body TurnResponse `json:"body"`
		}{Body: turnResponse(c, replies)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/reset",
		Summary:     "Start the conversation over",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body TurnResponse `json:"body"`
	}, error) {
		c, err := h.conversation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		replies := c.Reset(ctx)
		return &struct {
			Body TurnResponse `json:"body"`
		}{Body: turnResponse(c, replies)}, nil
	})
}

func registerView(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "get-view",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/view",
		Summary:     "Current page of the last search's results",
		Errors:      []int{http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Flush bool   `query:"flush"`
	}) (*struct {
		Body ViewResponse `json:"body"`
	}, error) {
		c, err := h.conversation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Flush {
			c.FlushFilter()
		}
		return &struct {
			Body ViewResponse `json:"body"`
		}{Body: viewResponse(c.View(), c.FilterPending())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-view",
		Method:      http.MethodPatch,
		Path:        "/sessions/{id}/view",
		Summary:     "Filter, sort or page the results",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body ViewPatchRequest `json:"body"`
	}) (*struct {
		Body ViewResponse `json:"body"`
	}, error) {
		c, err := h.conversation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := patchView(c, input.Body); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ViewResponse `json:"body"`
		}{Body: viewResponse(c.View(), c.FilterPending())}, nil
	})
}

// patchView validates every control before changing any.
func patchView(c *app.Conversation, p ViewPatchRequest) error {
	v := c.View()
	cur := v.Params()

	key, dir := cur.SortKey, cur.SortDir
	if p.SortKey != nil {
		k, err := dataset.ParseSortKey(*p.SortKey)
		if err != nil {
			return err
		}
		key = k
	}
	if p.SortDir != nil {
		d, err := dataset.ParseDirection(*p.SortDir)
		if err != nil {
			return err
		}
		dir = d
	}
	from, to := cur.DateFrom, cur.DateTo
	if p.DateFrom != nil {
		from = strings.TrimSpace(*p.DateFrom)
	}
	if p.DateTo != nil {
		to = strings.TrimSpace(*p.DateTo)
	}
	for _, s := range []string{from, to} {
		if s == "" {
			continue
		}
		if _, err := domain.ParseISODate(s); err != nil {
			return fmt.Errorf("invalid date bound %q", s)
		}
	}
	if from != "" && to != "" && from > to {
		return fmt.Errorf("invalid date bounds: %s is after %s", from, to)
	}
	switch p.Action {
	case "", "next", "prev":
	default:
		return fmt.Errorf("invalid action %q", p.Action)
	}

	if p.DateFrom != nil || p.DateTo != nil {
		if _, err := v.SetDateBounds(from, to); err != nil {
			return err
		}
	}
	fields := []struct {
		name  string
		value *string
	}{{"company", p.Company}, {"city", p.City}, {"type", p.Type}}
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		if _, err := v.SetFieldFilter(f.name, *f.value); err != nil {
			return err
		}
	}
	if p.SortKey != nil || p.SortDir != nil {
		v.SetSort(key, dir)
	}
	if p.PageSize != nil {
		v.SetPageSize(*p.PageSize)
	}
	if p.FilterText != nil {
		if p.Debounce {
			c.QueueFilterText(*p.FilterText)
		} else {
			c.SetFilterText(*p.FilterText)
		}
	}
	if p.Page != nil {
		v.SetPage(*p.Page)
	}
	switch p.Action {
	case "next":
		v.Next()
	case "prev":
		v.Prev()
	}
	return nil
}

func registerEvents(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/events",
		Summary:     "List a conversation's recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Type   string `query:"type"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, err := h.conversation(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := h.svc.Repo.LatestEvents(ctx, limit+1, cursorID, input.ID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func eventResponse(evt domain.Event) EventResponse {
	out := EventResponse{
		ID:    evt.ID,
		TS:    evt.TS,
		Type:  evt.Type,
		Step:  evt.Step,
		Owner: evt.Owner,
	}
	if evt.Payload != "" {
		_ = json.Unmarshal([]byte(evt.Payload), &out.Payload)
	}
	return out
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
