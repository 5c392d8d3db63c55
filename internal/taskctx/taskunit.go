package taskctx

// TaskUnit is the lifecycle contract a registered constructor produces.
// Defined here (rather than in the registry) so a Context can hold a
// resolver callback without taskctx needing to import the registry.
type TaskUnit interface {
	Run(ctx *Context) error
}

// Constructor builds a fresh TaskUnit instance for one run.
type Constructor func() TaskUnit

// Resolver looks up a constructor for a task code. registry.Registry
// satisfies this by its Get method; Context depends only on this narrow
// interface, not on the registry package itself, to avoid an import cycle
// (the registry needs taskctx.Constructor in its own Spec type).
type Resolver interface {
	Get(code string) (Constructor, error)
}
