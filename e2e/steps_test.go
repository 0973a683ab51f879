package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"

	"github.com/cucumber/godog"

	platformmetrics "provisioner/internal/platform/metrics"
	"provisioner/internal/platform/middleware"
	"provisioner/internal/provisioning"
	"provisioner/internal/provisioning/models"
	"provisioner/internal/provisioning/service"
	"provisioner/internal/supabase"
)

// scenario holds the state of one running scenario.
type scenario struct {
	backend *fakeBackend
	router  http.Handler
	token   string

	status int
	header http.Header
	body   []byte
}

func newScenario() (*scenario, error) {
	backend := newFakeBackend()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	factory, err := supabase.NewFactory(supabase.Config{
		BaseURL:        backend.server.URL,
		ServiceRoleKey: "service-role-key",
	}, supabase.WithHTTPClient(backend.server.Client()), supabase.WithLogger(logger))
	if err != nil {
		backend.Close()
		return nil, err
	}
	svc, err := provisioning.NewService(factory,
		service.WithLogger(logger),
		service.WithBootstrapAccounts([]models.BootstrapAccount{
			{Label: "Admin", Role: "admin", Email: "admin@ito.mg", Password: "admin-pass", FullName: "Administrateur Principal", Site: "FULL"},
			{Label: "Accueil", Role: "accueil", Email: "accueil.tana@ito.mg", Password: "front-pass", FullName: "Secrétaire Accueil Antananarivo", Site: "T"},
		}),
	)
	if err != nil {
		backend.Close()
		return nil, err
	}
	router := provisioning.NewRouter(provisioning.NewHandler(svc, logger), provisioning.RouterConfig{
		Logger:  logger,
		Metrics: platformmetrics.New(),
	})
	return &scenario{backend: backend, router: router}, nil
}

// RegisterSteps binds the step definitions of the provisioning features.
func RegisterSteps(sc *godog.ScenarioContext) {
	var s *scenario

	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		var err error
		s, err = newScenario()
		return ctx, err
	})
	sc.After(func(ctx context.Context, _ *godog.Scenario, _ error) (context.Context, error) {
		if s != nil {
			s.backend.Close()
		}
		return ctx, nil
	})

	// Backend setup
	sc.Step(`^the backend accepts the caller token "([^"]*)"$`, func(token string) error {
		s.token = token
		s.backend.acceptToken(token)
		return nil
	})
	sc.Step(`^the procedure "([^"]*)" returns:$`, func(name string, doc *godog.DocString) error {
		s.backend.setProcedure(name, http.StatusOK, doc.Content)
		return nil
	})
	sc.Step(`^the procedure "([^"]*)" fails with "([^"]*)"$`, func(name, msg string) error {
		body, err := json.Marshal(map[string]string{"code": "P0001", "message": msg})
		if err != nil {
			return err
		}
		s.backend.setProcedure(name, http.StatusBadRequest, string(body))
		return nil
	})

	// Requests
	sc.Step(`^I POST "([^"]*)" with the caller token and body:$`, func(path string, doc *godog.DocString) error {
		return s.send(http.MethodPost, path, s.token, doc.Content)
	})
	sc.Step(`^I POST "([^"]*)" without a token and body:$`, func(path string, doc *godog.DocString) error {
		return s.send(http.MethodPost, path, "", doc.Content)
	})
	sc.Step(`^I send OPTIONS to "([^"]*)"$`, func(path string) error {
		return s.send(http.MethodOptions, path, "", "")
	})

	// Response assertions
	sc.Step(`^the response status should be (\d+)$`, func(status int) error {
		return s.statusShouldBe(status)
	})
	sc.Step(`^the response JSON should be:$`, func(doc *godog.DocString) error {
		return s.jsonShouldBe(doc)
	})
	sc.Step(`^the response error should be "([^"]*)"$`, func(msg string) error {
		return s.fieldShouldBe("error", msg)
	})
	sc.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, func(field, want string) error {
		return s.fieldShouldBe(field, want)
	})
	sc.Step(`^the response should carry details$`, func() error {
		fields, err := s.fields()
		if err != nil {
			return err
		}
		if d, _ := fields["details"].(string); d == "" {
			return fmt.Errorf("expected details in %s", s.body)
		}
		return nil
	})
	sc.Step(`^the response body should be empty$`, func() error {
		if len(s.body) != 0 {
			return fmt.Errorf("expected empty body, got %q", s.body)
		}
		return nil
	})
	sc.Step(`^the CORS headers should be present$`, func() error {
		if got := s.header.Get("Access-Control-Allow-Origin"); got != middleware.AllowOrigin {
			return fmt.Errorf("allow origin: got %q", got)
		}
		if got := s.header.Get("Access-Control-Allow-Headers"); got != middleware.AllowHeaders {
			return fmt.Errorf("allow headers: got %q", got)
		}
		return nil
	})
	sc.Step(`^the bootstrapped roles should be "([^"]*)"$`, func(roles string) error {
		var resp struct {
			Users []models.BootstrapUser `json:"users"`
		}
		if err := json.Unmarshal(s.body, &resp); err != nil {
			return err
		}
		got := make([]string, 0, len(resp.Users))
		for _, u := range resp.Users {
			got = append(got, u.Role)
		}
		if strings.Join(got, ",") != roles {
			return fmt.Errorf("expected roles %s, got %v", roles, got)
		}
		return nil
	})

	// Backend assertions
	sc.Step(`^(\d+) identit(?:y|ies) should have been created$`, func(n int) error {
		created, _ := s.backend.snapshot()
		if len(created) != n {
			return fmt.Errorf("expected %d created identities, got %d", n, len(created))
		}
		return nil
	})
	sc.Step(`^(\d+) identit(?:y|ies) should have been deleted$`, func(n int) error {
		_, deleted := s.backend.snapshot()
		if len(deleted) != n {
			return fmt.Errorf("expected %d deleted identities, got %d", n, len(deleted))
		}
		return nil
	})
	sc.Step(`^the created identity should have been deleted$`, func() error {
		created, deleted := s.backend.snapshot()
		if len(created) != 1 || len(deleted) != 1 || created[0].ID != deleted[0] {
			return fmt.Errorf("expected the single created identity to be deleted once: created=%v deleted=%v", created, deleted)
		}
		return nil
	})
	sc.Step(`^the last identity should have site "([^"]*)" and name "([^"]*)"$`, func(site, name string) error {
		created, _ := s.backend.snapshot()
		if len(created) == 0 {
			return fmt.Errorf("no identity created")
		}
		md := created[len(created)-1].Metadata
		if md["site"] != site || md["nom_complet"] != name || md["role"] != models.RoleStudent {
			return fmt.Errorf("unexpected metadata %v", md)
		}
		return nil
	})
	sc.Step(`^the backend should have received (\d+) calls$`, func(n int) error {
		if got := int(s.backend.calls.Load()); got != n {
			return fmt.Errorf("expected %d backend calls, got %d", n, got)
		}
		return nil
	})
}

func (s *scenario) send(method, path, token, body string) error {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	s.status = rr.Code
	s.header = rr.Header()
	s.body = bytes.TrimSpace(rr.Body.Bytes())
	return nil
}

func (s *scenario) statusShouldBe(status int) error {
	if s.status != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, s.status, s.body)
	}
	return nil
}

func (s *scenario) fields() (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(s.body, &out); err != nil {
		return nil, fmt.Errorf("decode response %q: %w", s.body, err)
	}
	return out, nil
}

func (s *scenario) fieldShouldBe(field, want string) error {
	fields, err := s.fields()
	if err != nil {
		return err
	}
	if got := fmt.Sprint(fields[field]); got != want {
		return fmt.Errorf("expected %s=%q, got %q", field, want, got)
	}
	return nil
}

func (s *scenario) jsonShouldBe(doc *godog.DocString) error {
	var want, got any
	if err := json.Unmarshal([]byte(doc.Content), &want); err != nil {
		return err
	}
	if err := json.Unmarshal(s.body, &got); err != nil {
		return fmt.Errorf("decode response %q: %w", s.body, err)
	}
	if !reflect.DeepEqual(want, got) {
		return fmt.Errorf("expected %s, got %s", doc.Content, s.body)
	}
	return nil
}
