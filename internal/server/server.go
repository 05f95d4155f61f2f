// Package server exposes the machine park HTTP API.
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
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"machinepark/internal/domain"
	"machinepark/internal/engine"
	"machinepark/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"machine is Recaudacion/Operativa, cannot move to Comprobacion/Comprobandose"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the machine park API.
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
	hcfg := huma.DefaultConfig("Machine Park API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMachines(group, cfg.Engine)
	registerComponents(group, cfg.Engine)
	registerDirectory(group, cfg.Engine)
	registerNotifications(group, cfg.Engine)
	registerDistributions(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
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
	var ee *engine.Error
	if errors.As(err, &ee) {
		return newAPIError(statusForKind(ee.Kind), string(ee.Kind), ee.Message, nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func statusForKind(kind engine.ErrorKind) int {
	switch kind {
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindValidation:
		return http.StatusBadRequest
	case engine.KindInvalidTransition,
		engine.KindComponentUnavailable,
		engine.KindAlreadyInUse,
		engine.KindNotInUse:
		return http.StatusConflict
	case engine.KindWrongComponentType,
		engine.KindNoTechnicianAvailable:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
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

func bodyBytes(ctx context.Context) []byte {
	if b, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return b
	}
	return nil
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
    <title>Machine Park API Docs</title>
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

func registerMachines(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-machine",
		Method:        http.MethodPost,
		Path:          "/machines",
		Summary:       "Register machine",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body RegisterMachineRequest `json:"body"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.RegisterMachine(ctx, engine.RegisterMachineInput{
			Name:        input.Body.Name,
			Type:        input.Body.Type,
			CommerceID:  input.Body.CommerceID,
			PlateID:     input.Body.PlateID,
			EnclosureID: input.Body.EnclosureID,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: transitionResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-machines",
		Method:      http.MethodGet,
		Path:        "/machines",
		Summary:     "List machines",
	}, func(ctx context.Context, input *struct {
		Stage        string `query:"stage"`
		Status       string `query:"status"`
		AssemblerID  string `query:"assembler_id"`
		VerifierID   string `query:"verifier_id"`
		MaintainerID string `query:"maintainer_id"`
		CommerceID   string `query:"commerce_id"`
		Limit        int    `query:"limit"`
	}) (*struct {
		Body []domain.Machine `json:"body"`
	}, error) {
		items, err := e.Repo.ListMachines(ctx, repo.MachineFilters{
			Stage:        input.Stage,
			Status:       input.Status,
			AssemblerID:  input.AssemblerID,
			VerifierID:   input.VerifierID,
			MaintainerID: input.MaintainerID,
			CommerceID:   input.CommerceID,
			Limit:        input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Machine `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-machine",
		Method:      http.MethodGet,
		Path:        "/machines/{machine_id}",
		Summary:     "Get machine",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		MachineID string `path:"machine_id"`
	}) (*struct {
		Body domain.Machine `json:"body"`
	}, error) {
		m, err := e.Repo.GetMachine(ctx, input.MachineID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Machine `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-machine-components",
		Method:      http.MethodGet,
		Path:        "/machines/{machine_id}/components",
		Summary:     "Components mounted on a machine",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		MachineID string `path:"machine_id"`
	}) (*struct {
		Body []domain.Component `json:"body"`
	}, error) {
		if _, err := e.Repo.GetMachine(ctx, input.MachineID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ComponentsForMachine(ctx, input.MachineID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Component `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-machine",
		Method:      http.MethodPost,
		Path:        "/machines/{machine_id}/transitions/{operation}",
		Summary:     "Apply a lifecycle transition",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		MachineID string             `path:"machine_id"`
		Operation string             `path:"operation" enum:"send-to-verification,send-to-reassembly,send-to-distribution,mark-operational,send-to-maintenance,finish-maintenance,cancel-registration"`
		Body      *TransitionRequest `json:"body,omitempty"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var opts engine.TransitionOpts
		if input.Body != nil {
			opts.Success = input.Body.Success
			opts.Message = input.Body.Message
		}
		res, err := e.Transition(ctx, input.MachineID, input.Operation, actorID, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: transitionResponse(res)}, nil
	})
}

func registerComponents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-components",
		Method:      http.MethodGet,
		Path:        "/components",
		Summary:     "List components",
	}, func(ctx context.Context, input *struct {
		Type   string `query:"type" enum:",Placa,Carcasa"`
		Limit  int    `query:"limit"`
		Offset int    `query:"offset"`
	}) (*struct {
		Body ComponentListResponse `json:"body"`
	}, error) {
		items, total, err := e.Repo.ListComponents(ctx, input.Type, input.Limit, input.Offset)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ComponentListResponse `json:"body"`
		}{Body: ComponentListResponse{Items: items, Total: total}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-available-components",
		Method:      http.MethodGet,
		Path:        "/components/available",
		Summary:     "List available components",
	}, func(ctx context.Context, input *struct {
		Type string `query:"type" enum:",Placa,Carcasa"`
	}) (*struct {
		Body []domain.Component `json:"body"`
	}, error) {
		items, err := e.Repo.ListAvailableComponents(ctx, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Component `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-in-use-components",
		Method:      http.MethodGet,
		Path:        "/components/in-use",
		Summary:     "List components in use",
	}, func(ctx context.Context, input *struct {
		HolderID  string `query:"holder_id"`
		MachineID string `query:"machine_id"`
	}) (*struct {
		Body []domain.Component `json:"body"`
	}, error) {
		items, err := e.Repo.ListInUseComponents(ctx, input.HolderID, input.MachineID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Component `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "generate-plate",
		Method:        http.MethodPost,
		Path:          "/components/plates",
		Summary:       "Mint a board with a unique plate code",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Component `json:"body"`
	}, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		comp, err := e.GeneratePlate(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Component `json:"body"`
		}{Body: comp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-enclosure",
		Method:        http.MethodPost,
		Path:          "/components/enclosures",
		Summary:       "Add an enclosure to the pool",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Component `json:"body"`
	}, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		comp, err := e.CreateEnclosure(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Component `json:"body"`
		}{Body: comp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-component",
		Method:      http.MethodGet,
		Path:        "/components/{component_id}",
		Summary:     "Get component",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ComponentID string `path:"component_id"`
	}) (*struct {
		Body domain.Component `json:"body"`
	}, error) {
		comp, err := e.Repo.GetComponent(ctx, input.ComponentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Component `json:"body"`
		}{Body: comp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "use-component",
		Method:      http.MethodPost,
		Path:        "/components/{component_id}/use",
		Summary:     "Claim a component for a machine",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ComponentID string              `path:"component_id"`
		Body        UseComponentRequest `json:"body"`
	}) (*struct {
		Body domain.Component `json:"body"`
	}, error) {
		if input.Body.MachineID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "machine_id is required", nil)
		}
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		comp, err := e.UseComponent(ctx, input.ComponentID, input.Body.MachineID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Component `json:"body"`
		}{Body: comp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-component",
		Method:      http.MethodPost,
		Path:        "/components/{component_id}/release",
		Summary:     "Return a component to the pool",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ComponentID string `path:"component_id"`
	}) (*struct {
		Body domain.Component `json:"body"`
	}, error) {
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		comp, err := e.ReleaseComponent(ctx, input.ComponentID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Component `json:"body"`
		}{Body: comp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-enclosure",
		Method:      http.MethodPost,
		Path:        "/components/{component_id}/assign-enclosure",
		Summary:     "Mount an enclosure on a machine",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ComponentID string              `path:"component_id"`
		Body        UseComponentRequest `json:"body"`
	}) (*struct {
		Body domain.Component `json:"body"`
	}, error) {
		if input.Body.MachineID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "machine_id is required", nil)
		}
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		comp, err := e.AssignEnclosure(ctx, input.ComponentID, input.Body.MachineID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Component `json:"body"`
		}{Body: comp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-batch",
		Method:      http.MethodPost,
		Path:        "/components/release-batch",
		Summary:     "Release a set of components",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body ReleaseBatchRequest `json:"body"`
	}) (*struct {
		Body ReleaseBatchResponse `json:"body"`
	}, error) {
		if len(input.Body.ComponentIDs) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "component_ids is required", nil)
		}
		actorID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		released, err := e.ReleaseBatch(ctx, input.Body.ComponentIDs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReleaseBatchResponse `json:"body"`
		}{Body: ReleaseBatchResponse{Released: released}}, nil
	})
}

func registerDirectory(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-technicians",
		Method:      http.MethodGet,
		Path:        "/technicians",
		Summary:     "List technicians by specialty, least loaded first",
	}, func(ctx context.Context, input *struct {
		Specialty string `query:"specialty" enum:"Ensamblador,Comprobador,Mantenimiento" required:"true"`
	}) (*struct {
		Body []domain.Technician `json:"body"`
	}, error) {
		items, err := e.Directory.Technicians(ctx, input.Specialty)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Technician `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
	}, func(ctx context.Context, input *struct {
		Type string `query:"type" enum:",Tecnico,Logistica"`
	}) (*struct {
		Body []domain.User `json:"body"`
	}, error) {
		items, err := e.Repo.ListUsers(ctx, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.User `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "upsert-user",
		Method:        http.MethodPut,
		Path:          "/users",
		Summary:       "Create or update a user",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body UpsertUserRequest `json:"body"`
	}) (*struct {
		Body domain.User `json:"body"`
	}, error) {
		if input.Body.ID == "" || input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id and name are required", nil)
		}
		active := true
		if input.Body.Active != nil {
			active = *input.Body.Active
		}
		u := domain.User{
			ID:        input.Body.ID,
			Name:      input.Body.Name,
			Type:      input.Body.Type,
			Specialty: input.Body.Specialty,
			Active:    active,
			CreatedAt: nowRFC3339(e),
		}
		if err := e.Repo.UpsertUser(ctx, u); err != nil {
			return nil, handleError(err)
		}
		stored, err := e.Repo.GetUser(ctx, u.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.User `json:"body"`
		}{Body: stored}, nil
	})
}

func registerNotifications(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List notifications for the authenticated user",
	}, func(ctx context.Context, input *struct {
		Unread bool `query:"unread"`
	}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListNotifications(ctx, userID, input.Unread)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-notification",
		Method:      http.MethodPost,
		Path:        "/notifications/{notification_id}/read",
		Summary:     "Mark a notification as read",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		NotificationID int64 `path:"notification_id"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.MarkNotificationRead(ctx, input.NotificationID, userID, nowRFC3339(e)); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "read"}}, nil
	})
}

func registerDistributions(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-distributions",
		Method:      http.MethodGet,
		Path:        "/distributions",
		Summary:     "List distribution ledger records",
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status" enum:",Distribuyendose,Operativa,No operativa,Retirada"`
		CommerceID string `query:"commerce_id"`
		MachineID  string `query:"machine_id"`
		From       string `query:"from"`
		To         string `query:"to"`
	}) (*struct {
		Body []domain.DistributionRecord `json:"body"`
	}, error) {
		items, err := e.Repo.ListDistributions(ctx, repo.DistributionFilters{
			Status:     input.Status,
			CommerceID: input.CommerceID,
			MachineID:  input.MachineID,
			From:       input.From,
			To:         input.To,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.DistributionRecord `json:"body"`
		}{Body: items}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerAPIKeys(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Register an API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body domain.APIKey `json:"body"`
	}, error) {
		if input.Body.UserID == "" || input.Body.Key == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id and key are required", nil)
		}
		key := domain.APIKey{
			ID:        newID(),
			UserID:    input.Body.UserID,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(input.Body.Key),
			CreatedAt: nowRFC3339(e),
		}
		if err := e.Repo.InsertAPIKey(ctx, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.APIKey `json:"body"`
		}{Body: key}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
	}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		items, err := e.Repo.ListAPIKeys(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/api-keys/{key_id}",
		Summary:     "Delete an API key",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := e.Repo.DeleteAPIKey(ctx, input.KeyID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "deleted"}}, nil
	})
}
