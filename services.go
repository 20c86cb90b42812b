package intake

import (
	"github.com/gofiber/fiber/v2"
)

// Services is the wired set of core components
type Services struct {
	Repo       RepositoryManager
	Hasher     PasswordHasher
	Tokens     TokenService
	Auth       *Auther
	Workflow   *VerificationWorkflow
	Documents  *DocumentRegistry
	Applicant  *ApplicantService
	Admin      *AdminService
	Controller *Controller
	Logger     Logger

	cfg Config
}

// ServicesOption customizes NewServices
type ServicesOption func(*servicesOptions)

type servicesOptions struct {
	logger   Logger
	activity ActivitySink
	workflow []WorkflowOption
	tokens   []TokenServiceOption
}

func WithServicesLogger(logger Logger) ServicesOption {
	return func(o *servicesOptions) {
		o.logger = logger
	}
}

// WithServicesActivitySink overrides the default log sink
func WithServicesActivitySink(sink ActivitySink) ServicesOption {
	return func(o *servicesOptions) {
		o.activity = sink
	}
}

func WithServicesWorkflowOptions(opts ...WorkflowOption) ServicesOption {
	return func(o *servicesOptions) {
		o.workflow = append(o.workflow, opts...)
	}
}

func WithServicesTokenOptions(opts ...TokenServiceOption) ServicesOption {
	return func(o *servicesOptions) {
		o.tokens = append(o.tokens, opts...)
	}
}

// NewServices wires every component from cfg
func NewServices(cfg Config, repo RepositoryManager, store FileStore, opts ...ServicesOption) (*Services, error) {
	o := &servicesOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	logger := normalizeLogger(o.logger)
	activity := o.activity
	if activity == nil {
		activity = LogActivitySink(logger)
	}

	if err := repo.Validate(); err != nil {
		return nil, err
	}

	tokens, err := NewTokenServiceFromConfig(cfg, append([]TokenServiceOption{WithTokenLogger(logger)}, o.tokens...)...)
	if err != nil {
		return nil, err
	}

	accounts := repo.Accounts()
	hasher := NewPasswordHasher(cfg.GetPasswordAlgorithm(), cfg.GetBcryptCost())
	profiles := ProfilePolicy{PhoneRegion: cfg.GetDefaultPhoneRegion()}

	workflow := NewVerificationWorkflow(accounts, append([]WorkflowOption{
		WithWorkflowLogger(logger),
		WithWorkflowActivitySink(activity),
	}, o.workflow...)...)

	documents := NewDocumentRegistry(accounts, store, workflow,
		WithDocumentLogger(logger),
		WithDocumentActivitySink(activity),
		WithUploadPolicy(UploadPolicy{
			MaxFiles: cfg.GetMaxUploadFiles(),
			MaxSize:  cfg.GetMaxUploadSize(),
		}),
	)

	applicant := NewApplicantService(accounts, documents, workflow,
		WithApplicantLogger(logger),
		WithProfilePolicy(profiles),
	)

	admin := NewAdminService(accounts,
		WithAdminLogger(logger),
		WithAdminActivitySink(activity),
		WithAdminProfilePolicy(profiles),
	)

	auth := NewAuthenticator(accounts, hasher, tokens).
		WithLogger(logger).
		WithActivitySink(activity).
		WithDeterministicIDs(cfg.GetDeterministicIDs())

	controller := NewController(auth, applicant, workflow, documents, admin,
		WithControllerLogger(logger),
		WithControllerContextKey(cfg.GetContextKey()),
	)

	return &Services{
		Repo:       repo,
		Hasher:     hasher,
		Tokens:     tokens,
		Auth:       auth,
		Workflow:   workflow,
		Documents:  documents,
		Applicant:  applicant,
		Admin:      admin,
		Controller: controller,
		Logger:     logger,
		cfg:        cfg,
	}, nil
}

// Gate returns the auth gate for these services
func (s *Services) Gate() fiber.Handler {
	return AuthGateFromConfig(s.cfg, s.Tokens, s.Repo.Accounts(), s.Logger)
}

// Mount registers the REST API on app
func (s *Services) Mount(app fiber.Router, throttle fiber.Handler, uploads *LocalFileStore) {
	RegisterRoutes(app, s.Controller, RouteOptions{
		Gate:     s.Gate(),
		Throttle: throttle,
		Uploads:  uploads,
	})
}
