package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"airtech/internal/domain"
	"airtech/internal/engine"
	"airtech/internal/perm"
	"airtech/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"role viewer may not delete"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the complaints API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("AIRTECH Complaints API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group, cfg.Engine)
	registerComplaints(group, cfg.Engine)
	registerAdmin(group, cfg.Engine)
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var denied perm.DeniedError
	if errors.As(err, &denied) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"role": denied.Role, "operation": denied.Op})
	}
	var vErr engine.ValidationError
	if errors.As(err, &vErr) {
		details := make(map[string]any, len(vErr.Fields))
		for k, v := range vErr.Fields {
			details[k] = v
		}
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", "Validation failed", details)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", "complaint not found", nil)
	}
	// Storage faults surface as a generic failure with a diagnostic string.
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
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

// resolveActor turns the authenticated principal into a domain actor. The
// role is looked up from the profiles table and defaults to viewer when no
// profile exists.
func resolveActor(ctx context.Context, e engine.Engine) (domain.Actor, huma.StatusError) {
	p, ok := principalFromContext(ctx)
	if !ok || p.UID == "" {
		return domain.Actor{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	actor := domain.Actor{UID: p.UID, Email: p.Email, Role: domain.RoleViewer}
	profile, err := e.Repo.GetProfile(ctx, p.UID)
	if err == nil {
		actor.Role = profile.Role
		if actor.Email == "" {
			actor.Email = profile.Email
		}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Actor{}, newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
	return actor, nil
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

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current actor",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		p, _ := principalFromContext(ctx)
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{UID: actor.UID, Email: actor.Email, Role: actor.Role, Source: p.Source}}, nil
	})
}

type ComplaintPath struct {
	ID string `path:"id"`
}

func registerComplaints(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-complaint",
		Method:        http.MethodPost,
		Path:          "/complaints",
		Summary:       "Create complaint",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateComplaintRequest `json:"body"`
	}) (*struct {
		Body ReportResponse `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Create(ctx, actor, engine.CreateOptions{
			ComplaintDate:         input.Body.ComplaintDate,
			MachineName:           input.Body.MachineName,
			ComplaintDescription:  input.Body.ComplaintDescription,
			Priority:              input.Body.Priority,
			ComplaintStatus:       input.Body.ComplaintStatus,
			Department:            input.Body.Department,
			AssignedTo:            input.Body.AssignedTo,
			ActionDate:            input.Body.ActionDate,
			MaintenanceRemarks:    input.Body.MaintenanceRemarks,
			InitialInspectionDate: input.Body.InitialInspectionDate,
			EstimatedEndDate:      input.Body.EstimatedEndDate,
			FinalizationDate:      input.Body.FinalizationDate,
			MaterialsUsed:         input.Body.MaterialsUsed,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportResponse `json:"body"`
		}{Body: reportBody(engine.Succeeded("Complaint created successfully", c.ID))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-complaints",
		Method:      http.MethodGet,
		Path:        "/complaints",
		Summary:     "List complaints visible to the actor",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ComplaintListResponse `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		list, err := e.List(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ComplaintListResponse `json:"body"`
		}{Body: ComplaintListResponse{Complaints: list, Count: len(list)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-complaint",
		Method:      http.MethodGet,
		Path:        "/complaints/{id}",
		Summary:     "Get complaint",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ComplaintPath) (*struct {
		Body ComplaintResponse `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Get(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ComplaintResponse `json:"body"`
		}{Body: ComplaintResponse{Complaint: c}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-complaint",
		Method:      http.MethodPatch,
		Path:        "/complaints/{id}",
		Summary:     "Update complaint",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ComplaintPath
		Body UpdateComplaintRequest `json:"body"`
	}) (*struct {
		Body ReportResponse `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		_, err := e.Update(ctx, actor, input.ID, engine.UpdateOptions{
			ComplaintDate:         input.Body.ComplaintDate,
			MachineName:           input.Body.MachineName,
			ComplaintDescription:  input.Body.ComplaintDescription,
			Priority:              input.Body.Priority,
			ComplaintStatus:       input.Body.ComplaintStatus,
			Department:            input.Body.Department,
			AssignedTo:            input.Body.AssignedTo,
			ActionDate:            input.Body.ActionDate,
			MaintenanceRemarks:    input.Body.MaintenanceRemarks,
			InitialInspectionDate: input.Body.InitialInspectionDate,
			EstimatedEndDate:      input.Body.EstimatedEndDate,
			FinalizationDate:      input.Body.FinalizationDate,
			MaterialsUsed:         input.Body.MaterialsUsed,
			CreatedBy:             input.Body.CreatedBy,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportResponse `json:"body"`
		}{Body: reportBody(engine.Succeeded("Complaint updated successfully", input.ID))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-complaint",
		Method:      http.MethodDelete,
		Path:        "/complaints/{id}",
		Summary:     "Delete complaint",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *ComplaintPath) (*struct {
		Body ReportResponse `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Delete(ctx, actor, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportResponse `json:"body"`
		}{Body: reportBody(engine.Succeeded("Complaint deleted successfully", input.ID))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complaint-history",
		Method:      http.MethodGet,
		Path:        "/complaints/{id}/history",
		Summary:     "Complaint audit trail",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ComplaintPath) (*struct {
		Body HistoryResponse `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		entries, err := e.History(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HistoryResponse `json:"body"`
		}{Body: HistoryResponse{ComplaintID: input.ID, History: entries}}, nil
	})
}

func registerAdmin(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "backfill-history",
		Method:      http.MethodPost,
		Path:        "/admin/backfill-history",
		Summary:     "Synthesize Created entries for legacy records without history",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body BackfillResponse `json:"body"`
	}, error) {
		actor, authErr := resolveActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.BackfillHistory(ctx, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BackfillResponse `json:"body"`
		}{Body: BackfillResponse{Repaired: n}}, nil
	})
}

func reportBody(r engine.Report) ReportResponse {
	return ReportResponse{Success: r.Success, ID: r.ID, Message: r.Message, Error: r.Error}
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
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
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
    <title>AIRTECH API Docs</title>
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
