package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"provisioner/internal/platform/middleware"
	"provisioner/internal/platform/ratelimit"
	"provisioner/internal/provisioning/models"
	"provisioner/internal/provisioning/service"
	dErrors "provisioner/pkg/domain-errors"
	"provisioner/pkg/testutil"
)

type stubService struct {
	bootstrapUsers []models.BootstrapUser
	staffRecord    json.RawMessage
	studentResult  *models.StudentResult
	err            error

	staffCmd   *models.StaffCommand
	studentCmd *models.StudentCommand
	calls      int
}

func (s *stubService) Bootstrap(context.Context) ([]models.BootstrapUser, error) {
	s.calls++
	return s.bootstrapUsers, s.err
}

func (s *stubService) ProvisionStaff(_ context.Context, cmd models.StaffCommand) (json.RawMessage, error) {
	s.calls++
	s.staffCmd = &cmd
	return s.staffRecord, s.err
}

func (s *stubService) ProvisionStudent(_ context.Context, cmd models.StudentCommand) (*models.StudentResult, error) {
	s.calls++
	s.studentCmd = &cmd
	return s.studentResult, s.err
}

func newRouter(t *testing.T, svc Service, opts ...Option) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.ClientMetadata(nil))
	r.Use(middleware.CORS)
	r.Use(middleware.Preflight)
	New(svc, logger, opts...).Register(r)
	return r
}

func validStaffBody() map[string]any {
	return map[string]any{
		"email":       " rakoto@ito.mg ",
		"password":    "secret-123",
		"nom_complet": "Rakoto Jean",
		"role":        "enseignant",
		"site":        "T",
	}
}

func TestCreateStaff(t *testing.T) {
	testutil.Given(t, "no bearer token", func(t *testing.T) {
		svc := &stubService{}
		rr := testutil.DoRequest(newRouter(t, svc), testutil.NewJSONRequest(t, http.MethodPost, "/create-staff", validStaffBody()))

		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, service.MsgUnauthenticated)
		testutil.AssertCORSHeaders(t, rr)
		assert.Zero(t, svc.calls)
	})

	testutil.Given(t, "a body missing a field", func(t *testing.T) {
		svc := &stubService{}
		body := validStaffBody()
		delete(body, "site")
		req := testutil.WithBearer(testutil.NewJSONRequest(t, http.MethodPost, "/create-staff", body), "tok")
		rr := testutil.DoRequest(newRouter(t, svc), req)

		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "site est requis")
		assert.Zero(t, svc.calls)
	})

	testutil.Given(t, "a malformed body", func(t *testing.T) {
		svc := &stubService{}
		req := testutil.WithBearer(testutil.NewRequestWithBody(t, http.MethodPost, "/create-staff", `{"email":`), "tok")
		rr := testutil.DoRequest(newRouter(t, svc), req)

		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "corps de requête invalide")
		assert.Zero(t, svc.calls)
	})

	testutil.Given(t, "a valid request", func(t *testing.T) {
		svc := &stubService{staffRecord: json.RawMessage(`{"id":42,"role":"enseignant"}`)}
		req := testutil.WithBearer(testutil.NewJSONRequest(t, http.MethodPost, "/create-staff", validStaffBody()), "tok")
		rr := testutil.DoRequest(newRouter(t, svc), req)

		testutil.Then(t, "the finalize result is returned verbatim", func(t *testing.T) {
			testutil.AssertStatus(t, rr, http.StatusOK)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			assert.JSONEq(t, `{"id":42,"role":"enseignant"}`, rr.Body.String())
			testutil.AssertCORSHeaders(t, rr)
		})
		testutil.Then(t, "the command carries trimmed fields and the token", func(t *testing.T) {
			require.NotNil(t, svc.staffCmd)
			assert.Equal(t, "tok", svc.staffCmd.Token)
			assert.Equal(t, "rakoto@ito.mg", svc.staffCmd.Email)
			assert.Equal(t, "Rakoto Jean", svc.staffCmd.FullName)
		})
	})

	testutil.Given(t, "the workflow fails", func(t *testing.T) {
		svc := &stubService{err: dErrors.New(dErrors.CodeIdentityCreation, "Erreur création compte: User already registered")}
		req := testutil.WithBearer(testutil.NewJSONRequest(t, http.MethodPost, "/create-staff", validStaffBody()), "tok")
		rr := testutil.DoRequest(newRouter(t, svc), req)

		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "Erreur création compte: User already registered")
		_, hasDetails := testutil.UnmarshalErrorResponse(t, rr)["details"]
		assert.False(t, hasDetails)
	})
}

func TestCreateStudent(t *testing.T) {
	body := map[string]any{
		"student_data": map[string]any{
			"nom":           "Rabe",
			"prenom":        "Hery",
			"email_contact": "hery@ito.mg",
			"filiere":       "INFO",
		},
		"temp_password": "Tmp-4821",
	}

	testutil.Given(t, "a valid request", func(t *testing.T) {
		svc := &stubService{studentResult: &models.StudentResult{
			Record:       json.RawMessage(`{"matricule":"T-2024-007","etudiant_id":12345678901234567}`),
			TempPassword: "Tmp-4821",
		}}
		req := testutil.WithBearer(testutil.NewJSONRequest(t, http.MethodPost, "/create-student-v2", body), "tok")
		rr := testutil.DoRequest(newRouter(t, svc), req)

		testutil.Then(t, "the record is merged with the password and message", func(t *testing.T) {
			testutil.AssertStatus(t, rr, http.StatusOK)
			assert.JSONEq(t, `{
				"matricule": "T-2024-007",
				"etudiant_id": 12345678901234567,
				"temp_password": "Tmp-4821",
				"message": "Compte GOJIKA créé avec succès"
			}`, rr.Body.String())
		})
		testutil.Then(t, "student_data is forwarded untouched", func(t *testing.T) {
			require.NotNil(t, svc.studentCmd)
			assert.JSONEq(t, `{"nom":"Rabe","prenom":"Hery","email_contact":"hery@ito.mg","filiere":"INFO"}`, string(svc.studentCmd.Data))
			assert.Equal(t, "hery@ito.mg", svc.studentCmd.Email)
			assert.Equal(t, "Hery", svc.studentCmd.FirstName)
			assert.Equal(t, "Rabe", svc.studentCmd.LastName)
			assert.False(t, svc.studentCmd.ActivateGojika)
		})
	})

	testutil.Given(t, "no bearer token", func(t *testing.T) {
		svc := &stubService{}
		rr := testutil.DoRequest(newRouter(t, svc), testutil.NewJSONRequest(t, http.MethodPost, "/create-student-v2", body))

		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, service.MsgUnauthenticated)
		assert.Contains(t, testutil.UnmarshalErrorResponse(t, rr)["details"], "request_id")
		assert.Zero(t, svc.calls)
	})

	testutil.Given(t, "student_data without email_contact", func(t *testing.T) {
		svc := &stubService{}
		req := testutil.WithBearer(testutil.NewJSONRequest(t, http.MethodPost, "/create-student-v2", map[string]any{
			"student_data":  map[string]any{"nom": "Rabe"},
			"temp_password": "Tmp-4821",
		}), "tok")
		rr := testutil.DoRequest(newRouter(t, svc), req)

		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "student_data.email_contact est requis")
		assert.Zero(t, svc.calls)
	})

	testutil.Given(t, "the workflow fails", func(t *testing.T) {
		svc := &stubService{err: dErrors.New(dErrors.CodeFinalization, "Finalisation: matricule en double")}
		req := testutil.WithBearer(testutil.NewJSONRequest(t, http.MethodPost, "/create-student-v2", body), "tok")
		req.Header.Set(middleware.RequestIDHeader, "6f1c2b8e-3d4a-4f5b-9c6d-7e8f9a0b1c2d")
		rr := testutil.DoRequest(newRouter(t, svc), req)

		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "Finalisation: matricule en double")
		assert.Equal(t,
			"Voir les logs du serveur (request_id 6f1c2b8e-3d4a-4f5b-9c6d-7e8f9a0b1c2d) pour plus de détails",
			testutil.UnmarshalErrorResponse(t, rr)["details"])
	})
}

func TestBootstrap(t *testing.T) {
	testutil.Given(t, "the accounts are created", func(t *testing.T) {
		svc := &stubService{bootstrapUsers: []models.BootstrapUser{
			{Role: "admin", Email: "admin@ito.mg", Password: "a", Status: models.StatusSuccess},
			{Role: "accueil", Email: "accueil.tana@ito.mg", Password: "b", Status: models.StatusSuccess},
		}}
		rr := testutil.DoRequest(newRouter(t, svc), testutil.NewJSONRequest(t, http.MethodPost, "/bootstrap-users", nil))

		testutil.AssertStatus(t, rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[BootstrapResponse](t, rr)
		assert.Equal(t, "Bootstrap complet", resp.Message)
		require.Len(t, resp.Users, 2)
		assert.Equal(t, "admin", resp.Users[0].Role)
		assert.Equal(t, "accueil", resp.Users[1].Role)
	})

	testutil.Given(t, "an account fails", func(t *testing.T) {
		svc := &stubService{err: dErrors.New(dErrors.CodeIdentityCreation, "Admin: email already registered")}
		rr := testutil.DoRequest(newRouter(t, svc), testutil.NewJSONRequest(t, http.MethodPost, "/bootstrap-users", nil))

		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "Admin: email already registered")
	})

	testutil.Given(t, "a client over its rate", func(t *testing.T) {
		svc := &stubService{}
		router := newRouter(t, svc, WithBootstrapLimiter(ratelimit.New(0.001, 1, 0)))

		first := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/bootstrap-users", nil))
		second := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/bootstrap-users", nil))

		testutil.AssertStatus(t, first, http.StatusOK)
		testutil.AssertStatus(t, second, http.StatusTooManyRequests)
		assert.Equal(t, 1, svc.calls)
	})

	testutil.Given(t, "a client rotating forwarding headers", func(t *testing.T) {
		svc := &stubService{}
		router := newRouter(t, svc, WithBootstrapLimiter(ratelimit.New(0.001, 1, 0)))

		testutil.When(t, "each request claims a different origin", func(t *testing.T) {
			for i, ip := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
				req := testutil.NewJSONRequest(t, http.MethodPost, "/bootstrap-users", nil)
				req.Header.Set("X-Forwarded-For", ip)
				req.Header.Set("X-Real-IP", ip)
				rr := testutil.DoRequest(router, req)
				if i == 0 {
					testutil.AssertStatus(t, rr, http.StatusOK)
					continue
				}
				testutil.AssertStatus(t, rr, http.StatusTooManyRequests)
			}
		})

		testutil.Then(t, "they all share the socket peer's bucket", func(t *testing.T) {
			assert.Equal(t, 1, svc.calls)
		})
	})
}

func TestOptionsNeverReachesService(t *testing.T) {
	svc := &stubService{}
	router := newRouter(t, svc)

	for _, path := range []string{"/bootstrap-users", "/create-staff", "/create-student-v2"} {
		rr := testutil.DoRequest(router, testutil.NewRequestWithBody(t, http.MethodOptions, path, ""))
		testutil.AssertStatus(t, rr, http.StatusOK)
		assert.Empty(t, rr.Body.String())
		testutil.AssertCORSHeaders(t, rr)
	}
	assert.Zero(t, svc.calls)
}
