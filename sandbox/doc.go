// Package sandbox runs untrusted submissions in one-shot containers.
//
// An Engine resolves the submission's language in the Registry, provisions a
// private Workspace under the scratch root, rewrites java sources so the
// public class matches MyClass.java, and hands the workspace to a
// ContainerRuntime. The Docker runtime talks to the Engine API over the first
// transport that answers; the Podman runtime drives the CLI. Every outcome,
// including a non-zero exit, a missing runner image, a timeout or an
// unreachable engine, is folded into a Result by Classify.
//
// Workspaces and containers are removed before Engine.Run returns on every
// path. The Janitor cleans up after processes that died mid-run.
//
// Usage:
//
//	engine := sandbox.NewEngine(logger, registry, provisioner, runtime)
//	result, err := engine.Run(ctx, sandbox.ExecutionRequest{
//	    Language: "python",
//	    Code:     "print(1+1)",
//	})
package sandbox
