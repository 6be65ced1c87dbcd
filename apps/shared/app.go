package shared

import (
	"context"
	"fmt"
	"net/mail"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/apierror"
	"github.com/trezcool/gradebook/core/assessment"
	"github.com/trezcool/gradebook/core/classroom"
	"github.com/trezcool/gradebook/core/mapping"
	"github.com/trezcool/gradebook/core/progress"
	"github.com/trezcool/gradebook/core/taxonomy"
	appfs "github.com/trezcool/gradebook/fs"
	emailsvc "github.com/trezcool/gradebook/services/email"
)

// BatchReporter keeps the summary of every batch and mails it to the report recipients.
type BatchReporter struct {
	recorder   progress.Recorder
	mailer     core.EmailService
	recipients []mail.Address
	logger     core.Logger
}

func NewBatchReporter(conf *core.Config, recorder progress.Recorder, mailer core.EmailService, logger core.Logger) *BatchReporter {
	return &BatchReporter{
		recorder:   recorder,
		mailer:     mailer,
		recipients: conf.ReportRecipients,
		logger:     logger,
	}
}

// Report never fails the batch: recording errors are logged.
func (r *BatchReporter) Report(ctx context.Context, s progress.Summary) {
	if err := r.recorder.Record(ctx, s); err != nil {
		r.logger.Error(fmt.Sprintf("recording batch %q: %v", s.Operation, err), err)
	}
	if len(r.recipients) > 0 {
		r.mailer.SendMessages(s.EmailMessage(r.recipients))
	}
}

func (r *BatchReporter) Recent(ctx context.Context, limit int) ([]progress.Summary, error) {
	return r.recorder.Recent(ctx, limit)
}

// App gathers the services of one process.
type App struct {
	Conf       *core.Config
	Logger     core.Logger
	Translator ut.Translator
	Validate   *validator.Validate
	Taxonomy   *taxonomy.Taxonomy
	Storage    *Storage
	Classroom  *classroom.Service
	Mapping    *mapping.Engine
	Evaluator  *assessment.Evaluator
	Gradebooks assessment.Source
	Batches    *BatchReporter
	Mailer     core.EmailService
}

type Options struct {
	API       classroom.API // overrides the configured classroom
	Presenter apierror.Presenter
	Notifier  progress.Notifier
}

// Build wires the services by hand, the way the dig container of the API does.
func Build(ctx context.Context, conf *core.Config, logger core.Logger, opts Options) (*App, error) {
	tax, err := NewTaxonomy(conf)
	if err != nil {
		return nil, err
	}
	translator := NewTranslator()
	core.ParseEmailTemplates(appfs.FS, conf.TestMode, logger)

	api := opts.API
	if api == nil {
		if api, err = NewClassroomAPI(ctx, conf, logger); err != nil {
			return nil, err
		}
	}
	svc := NewClassroomService(api, conf, logger, opts.Presenter, opts.Notifier)

	st, err := OpenStorage(ctx, conf)
	if err != nil {
		return nil, err
	}
	optimizer, err := NewOptimizer(ctx, conf, tax, logger, opts.Notifier)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	evaluator, err := NewEvaluator(conf, tax)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	mailer := emailsvc.NewService(conf, logger)

	return &App{
		Conf:       conf,
		Logger:     logger,
		Translator: translator,
		Validate:   NewValidator(translator, tax),
		Taxonomy:   tax,
		Storage:    st,
		Classroom:  svc,
		Mapping:    NewMappingEngine(svc, NewMappingStore(conf, st, logger), optimizer, logger),
		Evaluator:  evaluator,
		Gradebooks: NewGradebookSource(conf, st),
		Batches:    NewBatchReporter(conf, NewRecorder(st), mailer, logger),
		Mailer:     mailer,
	}, nil
}

func (app *App) Close() error {
	return app.Storage.Close()
}
