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
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"plenario/internal/domain"
	"plenario/internal/engine"
	"plenario/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"no_quorum"`
	Message string         `json:"message" example:"5 of 13 members present, quorum is 7"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"present\":5}"`
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

// New returns an HTTP handler exposing the Plenario API.
func New(cfg Config) (http.Handler, error) {
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Plenario API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerPeriods(group, cfg.Engine)
	registerMembers(group, cfg.Engine)
	registerDocuments(group, cfg.Engine)
	registerSessions(group, cfg.Engine)
	registerAgenda(group, cfg.Engine)
	registerAttendance(group, cfg.Engine)
	registerVoting(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerKeys(group, cfg.Engine)
	registerMe(group)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
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

// handleError maps engine rule rejections onto the HTTP envelope. Conflicts
// over already-frozen or concurrently changed state are 409; business-rule
// gates the operator can still resolve are 422; a malformed ordering set is
// the caller's fault, 400.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var re engine.RuleError
	if errors.As(err, &re) {
		status := http.StatusUnprocessableEntity
		switch re.Code {
		case engine.CodeConflictingState, engine.CodeDuplicateItem, engine.CodeImmutable:
			status = http.StatusConflict
		case engine.CodeInvalidOrderingSet:
			status = http.StatusBadRequest
		}
		return newAPIError(status, re.Code, re.Message, re.Details)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "unknown") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
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
    <title>Plenario API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerPeriods(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-period",
		Method:        http.MethodPost,
		Path:          "/periods",
		Summary:       "Create legislative period",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreatePeriodRequest `json:"body"`
	}) (*struct {
		Body domain.Period `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		label := input.Body.Label
		if label == "" {
			label = input.Body.ID
		}
		p, err := e.InitPeriod(ctx, input.Body.ID, label, input.Body.StartsOn, input.Body.EndsOn, operatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Period `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-periods",
		Method:      http.MethodGet,
		Path:        "/periods",
		Summary:     "List legislative periods",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Period `json:"body"`
	}, error) {
		items, err := e.Repo.ListPeriods(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Period `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-period-config",
		Method:      http.MethodGet,
		Path:        "/periods/{period_id}/config",
		Summary:     "Get chamber config for a period",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PeriodID string `path:"period_id"`
	}) (*struct {
		Body ChamberConfigResponse `json:"body"`
	}, error) {
		cfg, err := e.Repo.GetPeriodConfig(ctx, input.PeriodID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChamberConfigResponse `json:"body"`
		}{Body: configResponse(cfg)}, nil
	})
}

func registerMembers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-member",
		Method:        http.MethodPost,
		Path:          "/members",
		Summary:       "Register member",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateMemberRequest `json:"body"`
	}) (*struct {
		Body domain.Member `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m := domain.Member{Name: input.Body.Name, Active: true}
		if input.Body.ID != nil {
			m.ID = *input.Body.ID
		}
		if input.Body.Party != nil {
			m.Party = *input.Body.Party
		}
		if input.Body.Active != nil {
			m.Active = *input.Body.Active
		}
		created, err := e.RegisterMember(ctx, m, operatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Member `json:"body"`
		}{Body: created}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/members",
		Summary:     "List members",
	}, func(ctx context.Context, input *struct {
		Active bool `query:"active"`
	}) (*struct {
		Body []domain.Member `json:"body"`
	}, error) {
		items, err := e.Repo.ListMembers(ctx, input.Active)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Member `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-document",
		Method:        http.MethodPost,
		Path:          "/documents",
		Summary:       "Register protocoled document",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateDocumentRequest `json:"body"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d := domain.Document{
			ProtocolNumber: input.Body.ProtocolNumber,
			Kind:           input.Body.Kind,
			AuthorID:       input.Body.AuthorID,
		}
		if input.Body.ID != nil {
			d.ID = *input.Body.ID
		}
		if input.Body.Summary != nil {
			d.Summary = *input.Body.Summary
		}
		created, err := e.RegisterDocument(ctx, d, operatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: created}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/documents",
		Summary:     "List documents",
	}, func(ctx context.Context, input *struct {
		Kind       string `query:"kind" enum:",ata,projeto_lei,parecer,requerimento,mocao,indicacao,veto"`
		Status     string `query:"status" enum:",available,archived"`
		Unagendaed bool   `query:"unagendaed" doc:"Only documents not yet on any agenda"`
	}) (*struct {
		Body []domain.Document `json:"body"`
	}, error) {
		items, err := e.Repo.ListDocuments(ctx, repo.DocumentFilters{
			Kind:       input.Kind,
			Status:     input.Status,
			Unagendaed: input.Unagendaed,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Document `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

type sessionPath struct {
	SessionID string `path:"session_id"`
}

type sessionBody struct {
	Body domain.Session `json:"body"`
}

func sessionResult(s domain.Session) *sessionBody {
	return &sessionBody{Body: s}
}

func registerSessions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "schedule-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Schedule session",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body ScheduleSessionRequest `json:"body"`
	}) (*sessionBody, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ScheduleSessionOptions{
			Kind:        input.Body.Kind,
			ScheduledAt: input.Body.ScheduledAt,
			ActorID:     operatorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.PeriodID != nil {
			opts.PeriodID = *input.Body.PeriodID
		} else if e.Config != nil {
			opts.PeriodID = e.Config.Chamber.Period
		}
		if input.Body.Location != nil {
			opts.Location = *input.Body.Location
		}
		if input.Body.Notes != nil {
			opts.Notes = *input.Body.Notes
		}
		s, err := e.ScheduleSession(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return sessionResult(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List sessions",
	}, func(ctx context.Context, input *struct {
		PeriodID string `query:"period_id"`
		Status   string `query:"status" enum:",scheduled,in_progress,suspended,realized,postponed,not_realized"`
		Kind     string `query:"kind" enum:",ordinaria,extraordinaria,solene"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedSessions `json:"body"`
	}, error) {
		items, err := e.Repo.ListSessions(ctx, repo.SessionFilters{
			PeriodID: input.PeriodID,
			Status:   input.Status,
			Kind:     input.Kind,
			Limit:    normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedSessions `json:"body"`
		}{Body: paginatedSessions{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}",
		Summary:     "Get session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*sessionBody, error) {
		s, err := e.Repo.GetSession(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return sessionResult(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "open-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/open",
		Summary:     "Open session for conduct",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		SessionID string             `path:"session_id"`
		Body      OpenSessionRequest `json:"body"`
	}) (*sessionBody, error) {
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.OpenSession(ctx, input.SessionID, input.Body.PresidingMemberID, operatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return sessionResult(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "suspend-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/suspend",
		Summary:     "Suspend session",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *sessionPath) (*sessionBody, error) {
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.SuspendSession(ctx, input.SessionID, operatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return sessionResult(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/resume",
		Summary:     "Resume session",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *sessionPath) (*sessionBody, error) {
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.ResumeSession(ctx, input.SessionID, operatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return sessionResult(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/close",
		Summary:     "Close session into the realized record",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *sessionPath) (*sessionBody, error) {
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CloseSession(ctx, input.SessionID, operatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return sessionResult(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "postpone-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/postpone",
		Summary:     "Postpone session",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		SessionID string        `path:"session_id"`
		Body      ReasonRequest `json:"body"`
	}) (*sessionBody, error) {
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.PostponeSession(ctx, input.SessionID, input.Body.Reason, operatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return sessionResult(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reschedule-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/reschedule",
		Summary:     "Reschedule postponed session",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		SessionID string                   `path:"session_id"`
		Body      RescheduleSessionRequest `json:"body"`
	}) (*sessionBody, error) {
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.RescheduleSession(ctx, input.SessionID, input.Body.ScheduledAt, operatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return sessionResult(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-session-not-realized",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/not-realized",
		Summary:     "Mark session not realized",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		SessionID string        `path:"session_id"`
		Body      ReasonRequest `json:"body"`
	}) (*sessionBody, error) {
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.MarkNotRealized(ctx, input.SessionID, input.Body.Reason, operatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return sessionResult(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-summary",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/summary",
		Summary:     "Session conduct summary",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body domain.SessionSummary `json:"body"`
	}, error) {
		summary, err := e.SessionSummary(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		summary.Attendance = nonNilSlice(summary.Attendance)
		summary.Agenda = nonNilSlice(summary.Agenda)
		return &struct {
			Body domain.SessionSummary `json:"body"`
		}{Body: summary}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-quorum",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/quorum",
		Summary:     "Current quorum status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body quorumBody `json:"body"`
	}, error) {
		q, err := e.QuorumStatus(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body quorumBody `json:"body"`
		}{Body: quorumBody{
			RosterSize: q.RosterSize,
			Present:    q.Present,
			Minimum:    q.Minimum,
			HasQuorum:  q.HasQuorum,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "generate-sessions",
		Method:        http.MethodPost,
		Path:          "/sessions/generate",
		Summary:       "Generate ordinary sessions for a month",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body GenerateSessionsRequest `json:"body"`
	}) (*struct {
		Body paginatedSessions `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		periodID := ""
		if input.Body.PeriodID != nil {
			periodID = *input.Body.PeriodID
		} else if e.Config != nil {
			periodID = e.Config.Chamber.Period
		}
		created, err := e.GenerateOrdinarySessions(ctx, periodID, input.Body.Year, time.Month(input.Body.Month), operatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedSessions `json:"body"`
		}{Body: paginatedSessions{Items: nonNilSlice(created)}}, nil
	})
}

type quorumBody struct {
	RosterSize int  `json:"roster_size"`
	Present    int  `json:"present"`
	Minimum    int  `json:"minimum"`
	HasQuorum  bool `json:"has_quorum"`
}

type itemPath struct {
	ItemID string `path:"item_id"`
}

type itemBody struct {
	Body domain.AgendaItem `json:"body"`
}

func registerAgenda(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agenda",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/agenda",
		Summary:     "List agenda items",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body []domain.AgendaItem `json:"body"`
	}, error) {
		if _, err := e.Repo.GetSession(ctx, input.SessionID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListAgendaItems(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AgendaItem `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-agenda-item",
		Method:        http.MethodPost,
		Path:          "/sessions/{session_id}/agenda/items",
		Summary:       "Add agenda item",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		SessionID string               `path:"session_id"`
		Body      AddAgendaItemRequest `json:"body"`
	}) (*itemBody, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.AddAgendaItem(ctx, input.SessionID, input.Body.DocumentID, input.Body.Section, operatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &itemBody{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "prepare-agenda",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/agenda/prepare",
		Summary:     "Run the mandatory-items housekeeping pass",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body []domain.AgendaItem `json:"body"`
	}, error) {
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.PrepareAgenda(ctx, input.SessionID, operatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AgendaItem `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-agenda",
		Method:      http.MethodPut,
		Path:        "/sessions/{session_id}/agenda/order",
		Summary:     "Reorder agenda",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		SessionID string               `path:"session_id"`
		Body      ReorderAgendaRequest `json:"body"`
	}) (*struct {
		Body []domain.AgendaItem `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ReorderAgenda(ctx, input.SessionID, input.Body.ItemIDs, operatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AgendaItem `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "publish-agenda",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/agenda/publish",
		Summary:     "Publish agenda",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *sessionPath) (*sessionBody, error) {
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.PublishAgenda(ctx, input.SessionID, operatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return sessionResult(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-agenda-item",
		Method:      http.MethodDelete,
		Path:        "/agenda/items/{item_id}",
		Summary:     "Remove agenda item",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *itemPath) (*struct{}, error) {
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveAgendaItem(ctx, input.ItemID, operatorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-item-read",
		Method:      http.MethodPost,
		Path:        "/agenda/items/{item_id}/read",
		Summary:     "Mark agenda item read",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *itemPath) (*itemBody, error) {
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.MarkItemRead(ctx, input.ItemID, operatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &itemBody{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "attach-item-report",
		Method:      http.MethodPost,
		Path:        "/agenda/items/{item_id}/report",
		Summary:     "Attach vote-result report",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ItemID string              `path:"item_id"`
		Body   AttachReportRequest `json:"body"`
	}) (*itemBody, error) {
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.AttachItemReport(ctx, input.ItemID, input.Body.ReportRef, operatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &itemBody{Body: it}, nil
	})
}

func registerAttendance(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-attendance",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/attendance",
		Summary:     "List attendance records",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body []domain.AttendanceRecord `json:"body"`
	}, error) {
		if _, err := e.Repo.GetSession(ctx, input.SessionID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListAttendance(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AttendanceRecord `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-attendance",
		Method:      http.MethodPut,
		Path:        "/sessions/{session_id}/attendance/{member_id}",
		Summary:     "Mark member attendance",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		SessionID string                `path:"session_id"`
		MemberID  string                `path:"member_id"`
		Body      MarkAttendanceRequest `json:"body"`
	}) (*struct {
		Body domain.AttendanceRecord `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, err := e.MarkAttendance(ctx, input.SessionID, input.MemberID, input.Body.Status, input.Body.Justification, operatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AttendanceRecord `json:"body"`
		}{Body: rec}, nil
	})
}

func registerVoting(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "start-vote",
		Method:      http.MethodPost,
		Path:        "/agenda/items/{item_id}/vote/start",
		Summary:     "Open the roll-call round",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *itemPath) (*itemBody, error) {
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.StartVote(ctx, input.ItemID, operatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &itemBody{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cast-vote",
		Method:      http.MethodPost,
		Path:        "/agenda/items/{item_id}/vote/cast",
		Summary:     "Cast or overwrite a vote",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ItemID string          `path:"item_id"`
		Body   CastVoteRequest `json:"body"`
	}) (*struct{}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.CastVote(ctx, input.ItemID, input.Body.MemberID, input.Body.Choice, operatorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-vote",
		Method:      http.MethodPost,
		Path:        "/agenda/items/{item_id}/vote/close",
		Summary:     "Close the round and record the result",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ItemID string           `path:"item_id"`
		Body   CloseVoteRequest `json:"body"`
	}) (*struct {
		Body domain.VotingResult `json:"body"`
	}, error) {
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.CloseVote(ctx, input.ItemID, input.Body.CastingVote, input.Body.Remarks, operatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.VotingResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "abandon-vote",
		Method:      http.MethodPost,
		Path:        "/agenda/items/{item_id}/vote/abandon",
		Summary:     "Abandon the open round",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ItemID string        `path:"item_id"`
		Body   ReasonRequest `json:"body"`
	}) (*itemBody, error) {
		operatorID, authErr := operatorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.AbandonVote(ctx, input.ItemID, input.Body.Reason, operatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &itemBody{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "roll-call",
		Method:      http.MethodGet,
		Path:        "/agenda/items/{item_id}/vote",
		Summary:     "Roll call for an item",
		Description: "Choices are withheld for secret-ballot matter kinds; only the voter roll shows.",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *itemPath) (*struct {
		Body []engine.VoteRecord `json:"body"`
	}, error) {
		records, err := e.RollCall(ctx, input.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []engine.VoteRecord `json:"body"`
		}{Body: nonNilSlice(records)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-voting-results",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}/results",
		Summary:     "List closed voting results",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct {
		Body []domain.VotingResult `json:"body"`
	}, error) {
		if _, err := e.Repo.GetSession(ctx, input.SessionID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListVotingResults(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.VotingResult `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		SessionID  string `query:"session_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:",period,member,document,session,agenda_item,attendance"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, input.SessionID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit].ID)
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

func registerKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/keys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.OperatorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "operator_id is required", nil)
		}
		if _, authErr := operatorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		secret := uuid.NewString()
		key := domain.APIKey{
			ID:         uuid.NewString(),
			OperatorID: input.Body.OperatorID,
			Name:       input.Body.Name,
			KeyHash:    repo.HashAPIKey(secret),
			CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		defer tx.Rollback()
		if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
			return nil, handleError(err)
		}
		if err := tx.Commit(); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:         key.ID,
			OperatorID: key.OperatorID,
			Name:       key.Name,
			CreatedAt:  key.CreatedAt,
			Key:        secret,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		OperatorID string `query:"operator_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		keys, err := e.Repo.ListAPIKeys(ctx, input.OperatorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			res = append(res, APIKeyResponse{
				ID:         k.ID,
				OperatorID: k.OperatorID,
				Name:       k.Name,
				CreatedAt:  k.CreatedAt,
			})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/keys/{key_id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		if _, authErr := operatorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

type WhoAmIResponse struct {
	OperatorID string   `json:"operator_id"`
	Roles      []string `json:"roles"`
	Source     string   `json:"source"`
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, ok := principalFromContext(ctx)
		if !ok || principal.OperatorID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			OperatorID: principal.OperatorID,
			Roles:      nonNilSlice(principal.Roles),
			Source:     principal.Source,
		}}, nil
	})
}

type DevLoginRequest struct {
	OperatorID string   `json:"operator_id"`
	Roles      []string `json:"roles,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		operator := strings.TrimSpace(input.Body.OperatorID)
		if operator == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "operator_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, operator, input.Body.Roles)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func signDevToken(secret, operatorID string, roles []string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operatorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(12 * time.Hour)),
		},
		Roles: roles,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
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
