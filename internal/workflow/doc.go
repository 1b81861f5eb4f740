// Package workflow composes single completion calls into multi-step workflows.
//
// Five runners share one set of collaborators ([Env]): a [completion.Completer],
// the run's [events.Sink], a [Diagnostics] channel and an optional
// [BatchObserver].
//
// Key types:
//   - [ChainRunner] threads each step's output into the next prompt
//   - [RouteDispatcher] classifies input and dispatches it to a configured route
//   - [ParallelRunner] fans a batch out under bounded concurrency (sectioning or voting)
//   - [OrchestratorRunner] decomposes a request into tasks, runs them, and synthesizes
//   - [OptimizerRunner] generates, evaluates and revises until a target score
//   - [Dispatcher] is the bounded worker pool shared by parallel and orchestrate
//
// Every runner returns a [Result] whose [Status] tags the terminal state, and
// emits a final "done" or "error" event before returning.
package workflow
