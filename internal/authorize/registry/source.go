package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/appconfigdata"
	"gopkg.in/yaml.v3"

	"github.com/govuk-one-login/account-components-sub001/internal/authorize/models"
)

// Source lists every registered client.
type Source interface {
	List(ctx context.Context) ([]models.Client, error)
}

// document is the registry format shared by the local file and AppConfig.
// JSON documents parse too, since YAML is a superset.
type document struct {
	Clients []models.Client `yaml:"clients"`
}

func parseDocument(raw []byte) ([]models.Client, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode client registry: %w", err)
	}
	return doc.Clients, nil
}

// FileSource reads the registry from a static file. Used in the local environment.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) List(_ context.Context) ([]models.Client, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read client registry %s: %w", s.path, err)
	}
	return parseDocument(raw)
}

//go:generate mockgen -source=source.go -destination=mocks/mocks.go -package=mocks AppConfigAPI

// AppConfigAPI is the subset of the AppConfig data client the registry uses.
type AppConfigAPI interface {
	StartConfigurationSession(ctx context.Context, params *appconfigdata.StartConfigurationSessionInput, optFns ...func(*appconfigdata.Options)) (*appconfigdata.StartConfigurationSessionOutput, error)
	GetLatestConfiguration(ctx context.Context, params *appconfigdata.GetLatestConfigurationInput, optFns ...func(*appconfigdata.Options)) (*appconfigdata.GetLatestConfigurationOutput, error)
}

// AppConfigSource fetches the registry from a managed AppConfig profile.
type AppConfigSource struct {
	api         AppConfigAPI
	application string
	environment string
	profile     string

	mu    sync.Mutex
	token *string
	last  []models.Client
}

func NewAppConfigSource(api AppConfigAPI, application, environment, profile string) *AppConfigSource {
	return &AppConfigSource{api: api, application: application, environment: environment, profile: profile}
}

// List polls the latest configuration. AppConfig returns an empty body when
// nothing changed since the previous poll, in which case the last document is reused.
func (s *AppConfigSource) List(ctx context.Context) ([]models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == nil {
		out, err := s.api.StartConfigurationSession(ctx, &appconfigdata.StartConfigurationSessionInput{
			ApplicationIdentifier:          aws.String(s.application),
			EnvironmentIdentifier:          aws.String(s.environment),
			ConfigurationProfileIdentifier: aws.String(s.profile),
		})
		if err != nil {
			return nil, fmt.Errorf("start appconfig session: %w", err)
		}
		s.token = out.InitialConfigurationToken
	}

	out, err := s.api.GetLatestConfiguration(ctx, &appconfigdata.GetLatestConfigurationInput{
		ConfigurationToken: s.token,
	})
	if err != nil {
		// Tokens are single use; start over on the next call.
		s.token = nil
		return nil, fmt.Errorf("get appconfig configuration: %w", err)
	}
	s.token = out.NextPollConfigurationToken

	if len(out.Configuration) == 0 {
		if s.last == nil {
			return nil, errors.New("appconfig returned an empty client registry")
		}
		return s.last, nil
	}

	clients, err := parseDocument(out.Configuration)
	if err != nil {
		return nil, err
	}
	s.last = clients
	return clients, nil
}
