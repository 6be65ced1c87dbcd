package dig_container

import (
	"context"
	"log"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/gradebook/apps/api/echo"
	"github.com/trezcool/gradebook/apps/shared"
	"github.com/trezcool/gradebook/core"
	"github.com/trezcool/gradebook/core/apierror"
	"github.com/trezcool/gradebook/core/assessment"
	"github.com/trezcool/gradebook/core/classroom"
	"github.com/trezcool/gradebook/core/mapping"
	"github.com/trezcool/gradebook/core/progress"
	"github.com/trezcool/gradebook/core/taxonomy"
	emailsvc "github.com/trezcool/gradebook/services/email"
)

// AppParams gathers the services of the API.
type AppParams struct {
	dig.In

	Conf       *core.Config
	Logger     core.Logger
	Translator ut.Translator
	Validate   *validator.Validate
	Taxonomy   *taxonomy.Taxonomy
	Storage    *shared.Storage
	Classroom  *classroom.Service
	Mapping    *mapping.Engine
	Evaluator  *assessment.Evaluator
	Gradebooks assessment.Source
	Batches    *shared.BatchReporter
	Mailer     core.EmailService
}

func newApp(p AppParams) *shared.App {
	return &shared.App{
		Conf:       p.Conf,
		Logger:     p.Logger,
		Translator: p.Translator,
		Validate:   p.Validate,
		Taxonomy:   p.Taxonomy,
		Storage:    p.Storage,
		Classroom:  p.Classroom,
		Mapping:    p.Mapping,
		Evaluator:  p.Evaluator,
		Gradebooks: p.Gradebooks,
		Batches:    p.Batches,
		Mailer:     p.Mailer,
	}
}

func newLogger(conf *core.Config) (core.Logger, error) {
	return shared.NewLogger(conf, "api")
}

// errors and progress reach API clients through the responses
func newPresenter() apierror.Presenter { return apierror.NopPresenter{} }
func newNotifier() progress.Notifier   { return progress.NopNotifier{} }

// New returns a new dependency injection dig.Container. ctx bounds the set up of the Google clients.
func New(ctx context.Context, conf *core.Config, opts echoapi.Options) *dig.Container {
	c := dig.New()

	must(c.Provide(func() context.Context { return ctx }))
	must(c.Provide(func() *core.Config { return conf }))
	must(c.Provide(func() echoapi.Options { return opts }))
	must(c.Provide(newLogger))
	must(c.Provide(newPresenter))
	must(c.Provide(newNotifier))
	must(c.Provide(shared.NewTranslator))
	must(c.Provide(shared.NewTaxonomy))
	must(c.Provide(shared.NewValidator))
	must(c.Provide(shared.NewClassroomAPI))
	must(c.Provide(shared.NewClassroomService))
	must(c.Provide(shared.OpenStorage))
	must(c.Provide(shared.NewMappingStore))
	must(c.Provide(shared.NewRecorder))
	must(c.Provide(shared.NewGradebookSource))
	must(c.Provide(shared.NewOptimizer))
	must(c.Provide(shared.NewMappingEngine))
	must(c.Provide(shared.NewEvaluator))
	must(c.Provide(emailsvc.NewService))
	must(c.Provide(shared.NewBatchReporter))
	must(c.Provide(newApp))
	must(c.Provide(echoapi.NewServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
