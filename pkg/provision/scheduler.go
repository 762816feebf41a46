package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// Config carries the run-level settings shared by every spec in a run.
type Config struct {
	// ProjectCode is the naming project component.
	ProjectCode string

	// Location is the region resources are created in.
	Location string

	// Scope is the run's default scope: the subscription and home
	// resource group identities are created in.
	Scope ScopeRef

	// Federation identifies the trusted CI/CD repository.
	Federation FederationConfig

	// Tags are the base governance tag inputs. Environment, service and
	// correlation id are filled per spec and per run.
	Tags TagInputs

	// Parallelism bounds concurrent spec pipelines. Zero means the
	// default.
	Parallelism int

	// Retry bounds backoff around provider calls. Zero value means the
	// default config.
	Retry RetryConfig
}

// RunReport is the outcome of one scheduler run. Partial progress is
// preserved: specs that reached Active stay Active even when siblings
// fail.
type RunReport struct {
	CorrelationID string
	StartedAt     time.Time
	FinishedAt    time.Time
	Results       map[string]SpecResult
}

// Failed returns the results of specs that did not reach Active,
// ordered by key.
func (r *RunReport) Failed() []SpecResult {
	var failed []SpecResult
	for _, res := range r.Results {
		if res.Failed() {
			failed = append(failed, res)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].Key < failed[j].Key })
	return failed
}

// Err aggregates per-spec failures. Nil when every spec reached Active.
func (r *RunReport) Err() error {
	var result *multierror.Error
	for _, res := range r.Failed() {
		result = multierror.Append(result, fmt.Errorf("spec %q failed at stage %s: %w", res.Key, res.Stage, res.Err))
	}
	return result.ErrorOrNil()
}

// Scheduler orders provisioning into stages per spec and fans
// independent specs out over a bounded worker pool. Each spec advances
// Declared -> NameResolved -> Created -> (Federated)? -> RoleBound ->
// Active; failure at any stage marks that spec (and only that spec)
// failed.
//
// The scheduler holds no state across runs. Every run re-resolves
// provider state through create-or-get semantics, so already-provisioned
// specs pass through as no-ops and concurrent runs over the same spec
// list are safe.
type Scheduler struct {
	provider   ResourceProvider
	cfg        Config
	resolver   *Resolver
	tags       *TagPolicy
	identities *IdentityManager
	binder     *FederationBinder
	planner    *RoleAssignmentPlanner
	log        *slog.Logger
}

// SchedulerOption configures the Scheduler.
type SchedulerOption func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.log = log
	}
}

// WithTagPolicy replaces the tag policy (useful for injecting a clock).
func WithTagPolicy(p *TagPolicy) SchedulerOption {
	return func(s *Scheduler) {
		s.tags = p
	}
}

// NewScheduler wires a scheduler over the provider. Provider calls are
// wrapped with bounded exponential backoff per the config.
func NewScheduler(provider ResourceProvider, cfg Config, opts ...SchedulerOption) *Scheduler {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig
	}

	s := &Scheduler{
		cfg:      cfg,
		resolver: NewResolver(),
		tags:     NewTagPolicy(),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.provider = WithRetry(provider, cfg.Retry, s.log)
	s.identities = NewIdentityManager(s.provider, s.resolver, s.tags, cfg.ProjectCode, cfg.Location,
		WithParallelism(cfg.Parallelism),
		WithBaseTagInputs(cfg.Tags),
		WithIdentityLogger(s.log))
	s.binder = NewFederationBinder(s.provider, cfg.Federation, WithFederationLogger(s.log))
	s.planner = NewRoleAssignmentPlanner(s.provider, cfg.Scope.ResourceGroup, WithPlannerLogger(s.log))
	return s
}

// Run provisions every spec in the list. The returned report carries one
// result per key; the returned error aggregates per-spec failures and is
// nil only on full success. A cancelled context stops new provider calls
// but never undoes completed stages: the provider model is additive.
func (s *Scheduler) Run(ctx context.Context, correlationID string, specs []WorkloadIdentitySpec) (*RunReport, error) {
	report := &RunReport{
		CorrelationID: correlationID,
		StartedAt:     time.Now(),
		Results:       make(map[string]SpecResult, len(specs)),
	}

	if err := validateSpecList(specs); err != nil {
		return report, err
	}

	// The home resource group is a precondition for every spec.
	if err := s.ensureHomeGroup(ctx, correlationID); err != nil {
		return report, err
	}

	// Main pass: specs the engine creates itself. Parent-gated specs run
	// in a second pass so their parents (provisioned out-of-band or by
	// sibling deployments) have had a chance to materialize.
	var direct, gated []WorkloadIdentitySpec
	for _, spec := range specs {
		if spec.ParentGate != nil {
			gated = append(gated, spec)
		} else {
			direct = append(direct, spec)
		}
	}

	var mu sync.Mutex
	runPass := func(pass []WorkloadIdentitySpec) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Parallelism)
		for _, spec := range pass {
			spec := spec
			g.Go(func() error {
				res := s.runPipeline(gctx, correlationID, spec)
				mu.Lock()
				report.Results[spec.Key] = res
				mu.Unlock()
				// Sibling specs keep running on failure; errors are
				// reported per key, not propagated through the group.
				return nil
			})
		}
		_ = g.Wait()
	}

	runPass(direct)
	runPass(gated)

	report.FinishedAt = time.Now()
	return report, report.Err()
}

// ensureHomeGroup creates or fetches the run's home resource group.
func (s *Scheduler) ensureHomeGroup(ctx context.Context, correlationID string) error {
	in := s.cfg.Tags
	in.Project = s.cfg.ProjectCode
	in.CorrelationID = correlationID
	_, err := s.provider.CreateOrGetResourceGroup(ctx, s.cfg.Scope.ResourceGroup, s.cfg.Location, s.tags.BuildTags(in))
	if err != nil {
		return ErrProvisioning("create-or-get home resource group failed").
			WithOperation("CreateOrGetResourceGroup").
			WithCause(err).
			WithRetryable(false)
	}
	return nil
}

// runPipeline advances one spec through its stages. It returns a result
// rather than an error so sibling pipelines are unaffected.
func (s *Scheduler) runPipeline(ctx context.Context, correlationID string, spec WorkloadIdentitySpec) SpecResult {
	res := SpecResult{Key: spec.Key, Stage: StageDeclared}

	fail := func(stage Stage, err error) SpecResult {
		var pErr *ProvisionError
		if !errors.As(err, &pErr) {
			pErr = ErrInternal(err.Error())
		}
		if pErr.SpecKey == "" {
			pErr = pErr.WithSpecKey(spec.Key)
		}
		if pErr.Stage == "" {
			pErr = pErr.WithStage(stage)
		}
		res.Err = pErr
		s.log.Error("spec failed", "key", spec.Key, "stage", stage, "error", pErr)
		return res
	}

	// Declared -> NameResolved
	name, err := s.identities.ResolveName(spec)
	if err != nil {
		return fail(StageNameResolved, err)
	}
	res.Stage = StageNameResolved

	// NameResolved -> Created
	var identity *ManagedIdentity
	if spec.ParentGate != nil {
		identity, err = s.awaitParentIdentity(ctx, spec, name)
	} else {
		identity, err = s.identities.EnsureOne(ctx, s.cfg.Scope.ResourceGroup, correlationID, spec)
	}
	if err != nil {
		return fail(StageCreated, err)
	}
	res.Stage = StageCreated
	res.Identity = identity

	// Created -> Federated, only when the spec requests federation.
	if len(spec.FederationKinds) > 0 {
		creds, err := s.binder.Bind(ctx, s.cfg.Scope.ResourceGroup, *identity, spec)
		if err != nil {
			return fail(StageFederated, err)
		}
		res.Stage = StageFederated
		res.Credentials = creds
	}

	// (Created|Federated) -> RoleBound: every declared grant must land.
	for _, grant := range spec.Grants(s.cfg.Scope) {
		assignment, err := s.planner.Apply(ctx, *identity, grant.Role, *grant.Scope)
		if err != nil {
			return fail(StageRoleBound, err)
		}
		res.Assignments = append(res.Assignments, *assignment)
	}
	res.Stage = StageRoleBound

	res.Stage = StageActive
	s.log.Info("spec active",
		"key", spec.Key,
		"identity", identity.Name,
		"credentials", len(res.Credentials),
		"assignments", len(res.Assignments))
	return res
}

// awaitParentIdentity handles specs whose identity a parent resource
// auto-creates. The created transition is gated on the parent existing;
// the identity itself is then looked up instead of created.
func (s *Scheduler) awaitParentIdentity(ctx context.Context, spec WorkloadIdentitySpec, resolvedName string) (*ManagedIdentity, error) {
	gate := spec.ParentGate
	if _, err := s.provider.GetResource(ctx, gate.Kind, gate.Name, s.cfg.Scope); err != nil {
		if IsCategory(err, CategoryNotFound) {
			return nil, ErrScopeUnresolved(fmt.Sprintf("parent %s/%s", gate.Kind, gate.Name)).
				WithSpecKey(spec.Key).
				WithCause(err)
		}
		return nil, err
	}

	lookupName := gate.IdentityName
	if lookupName == "" {
		lookupName = resolvedName
	}
	identity, err := s.identities.Lookup(ctx, lookupName, s.cfg.Scope)
	if err != nil {
		if IsCategory(err, CategoryNotFound) {
			return nil, ErrScopeUnresolved(fmt.Sprintf("identity %s not yet materialized by parent %s/%s", lookupName, gate.Kind, gate.Name)).
				WithSpecKey(spec.Key).
				WithCause(err)
		}
		return nil, err
	}
	return identity, nil
}

// validateSpecList rejects duplicate keys before any provider call.
func validateSpecList(specs []WorkloadIdentitySpec) error {
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if spec.Key == "" {
			return ErrValidation("spec key must not be empty")
		}
		if seen[spec.Key] {
			return ErrValidation(fmt.Sprintf("duplicate spec key: %q", spec.Key))
		}
		seen[spec.Key] = true
	}
	return nil
}
