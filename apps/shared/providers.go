// Package shared builds the services the admin CLI and the API server have in common.
package shared

import (
	"context"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/apierror"
	"github.com/trezcool/gradebook/core/assessment"
	"github.com/trezcool/gradebook/core/classroom"
	"github.com/trezcool/gradebook/core/mapping"
	"github.com/trezcool/gradebook/core/progress"
	"github.com/trezcool/gradebook/core/ratelimit"
	"github.com/trezcool/gradebook/core/taxonomy"
	classroomsvc "github.com/trezcool/gradebook/services/classroom"
	geminisvc "github.com/trezcool/gradebook/services/gemini"
	googlesvc "github.com/trezcool/gradebook/services/google"
	logsvc "github.com/trezcool/gradebook/services/logger"
	sheetsvc "github.com/trezcool/gradebook/services/sheets"
	"github.com/trezcool/gradebook/storage/database"
	dummydb "github.com/trezcool/gradebook/storage/database/dummy"
	sqlxrepos "github.com/trezcool/gradebook/storage/database/sqlx"
)

const (
	StoreSheets   = "sheets"
	StoreDatabase = "database"
	StoreMemory   = "memory"
)

var (
	ErrNoSpreadsheet = errors.New("no spreadsheet configured (mapping.spreadsheetId)")
	ErrUnknownStore  = errors.New("unknown mapping store")
)

// NewLogger returns the zap logger decorated by rollbar.
func NewLogger(conf *core.Config, name string) (core.Logger, error) {
	zl, err := logsvc.NewZapLogger(name, conf.Debug)
	if err != nil {
		return nil, errors.Wrap(err, "building logger")
	}
	return logsvc.NewRollbarLogger(zl, conf), nil
}

func NewTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// NewValidator registers every custom validation of the app.
func NewValidator(translator ut.Translator, tax *taxonomy.Taxonomy) *validator.Validate {
	validate := validator.New()
	core.InitValidators(validate, translator)
	classroom.InitValidators(validate, translator)
	mapping.InitValidators(validate, translator, tax)
	return validate
}

func NewTaxonomy(conf *core.Config) (*taxonomy.Taxonomy, error) {
	return taxonomy.Load(conf.Mapping.TaxonomyFile)
}

// NewClassroomAPI talks to Google Classroom, or to an in-memory classroom when running in debug
// without credentials.
func NewClassroomAPI(ctx context.Context, conf *core.Config, logger core.Logger) (classroom.API, error) {
	if conf.Debug && conf.Classroom.CredentialsFile == "" {
		logger.Warn("no classroom credentials: using the in-memory classroom")
		return classroomsvc.NewDummyAPI(), nil
	}
	opts, err := googlesvc.ClientOptions(ctx, conf.Classroom)
	if err != nil {
		return nil, err
	}
	return classroomsvc.NewGoogleAPI(ctx, opts...)
}

func NewClassroomService(
	api classroom.API,
	conf *core.Config,
	logger core.Logger,
	presenter apierror.Presenter,
	notifier progress.Notifier,
) *classroom.Service {
	limiter := ratelimit.New(ratelimit.OptionsFromConfig(conf.RateLimit), logger)
	errs := apierror.NewHandler(logger, presenter, apierror.DelaysFromConfig(conf.Retry))
	return classroom.NewService(api, limiter, errs, logger, notifier, classroom.OptionsFromConfig(conf))
}

// Storage holds the backends of the configured mapping store. DB is nil unless the store is the
// database and Sheets is nil without a spreadsheet id.
type Storage struct {
	DB     *sqlx.DB
	Sheets *sheetsvc.Client
	memory *dummydb.DB
}

// OpenStorage connects the backends the configuration asks for. The database is created and
// migrated on the way.
func OpenStorage(ctx context.Context, conf *core.Config) (*Storage, error) {
	st := &Storage{memory: dummydb.Open()}

	switch conf.Mapping.Store {
	case StoreSheets, StoreMemory:
	case StoreDatabase:
		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			return nil, errors.Wrap(err, "creating database")
		}
		db, err := database.Open(conf)
		if err != nil {
			return nil, errors.Wrap(err, "opening database")
		}
		if err = database.Migrate(ctx, db.DB, "up"); err != nil {
			_ = db.Close()
			return nil, err
		}
		st.DB = db
	default:
		return nil, errors.Wrapf(ErrUnknownStore, "%q", conf.Mapping.Store)
	}

	if conf.Mapping.SpreadsheetID != "" {
		opts, err := googlesvc.ClientOptions(ctx, conf.Classroom)
		if err != nil {
			return nil, err
		}
		if st.Sheets, err = sheetsvc.NewClient(ctx, conf.Mapping.SpreadsheetID, opts...); err != nil {
			return nil, err
		}
	} else if conf.Mapping.Store == StoreSheets {
		return nil, ErrNoSpreadsheet
	}
	return st, nil
}

func (st *Storage) Close() error {
	if st.DB != nil {
		return st.DB.Close()
	}
	return nil
}

func NewMappingStore(conf *core.Config, st *Storage, logger core.Logger) mapping.Store {
	switch {
	case st.DB != nil:
		return sqlxrepos.NewMappingStore(st.DB)
	case conf.Mapping.Store == StoreSheets:
		return sheetsvc.NewMappingStore(st.Sheets, conf.Mapping.SheetName, logger)
	default:
		return dummydb.NewMappingStore(st.memory)
	}
}

func NewRecorder(st *Storage) progress.Recorder {
	if st.DB != nil {
		return sqlxrepos.NewBatchRunRecorder(st.DB)
	}
	return dummydb.NewBatchRunRecorder(st.memory)
}

type noGradebooks struct{}

func (noGradebooks) Gradebooks(context.Context) ([]assessment.Gradebook, error) {
	return nil, ErrNoSpreadsheet
}

func NewGradebookSource(conf *core.Config, st *Storage) assessment.Source {
	if st.Sheets == nil {
		return noGradebooks{}
	}
	return sheetsvc.NewGradebookReader(st.Sheets, conf.Assessment.GradebookSheet)
}

// NewOptimizer consults Gemini for the course names the heuristics cannot classify, when an API
// key is configured.
func NewOptimizer(ctx context.Context, conf *core.Config, tax *taxonomy.Taxonomy, logger core.Logger, notifier progress.Notifier) (*mapping.Optimizer, error) {
	var opts []mapping.OptimizerOption
	if notifier != nil {
		opts = append(opts, mapping.WithProgressNotifier(notifier))
	}
	if conf.Gemini.APIKey != "" {
		advisor, err := geminisvc.NewAdvisor(ctx, conf.Gemini, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, mapping.WithAdvisor(advisor))
	}
	return mapping.NewOptimizer(tax, logger, opts...), nil
}

func NewMappingEngine(svc *classroom.Service, store mapping.Store, optimizer *mapping.Optimizer, logger core.Logger) *mapping.Engine {
	return mapping.NewEngine(svc, store, optimizer, logger)
}

func NewEvaluator(conf *core.Config, tax *taxonomy.Taxonomy) (*assessment.Evaluator, error) {
	return assessment.NewEvaluator(
		assessment.PlanFromConfig(conf.Assessment),
		assessment.ThresholdsFromConfig(conf.Progress),
		tax,
	)
}
