// Package environment models language runtime installations and resolves
// them by introspection.
//
// A RuntimeEnvironment is produced by running the candidate executable with
// an embedded probe script that prints one JSON line:
//
//	{"type": "conda-env", "name": "lab", "versions": {"python": "3.12.1", "jupyterlab": "4.1.0"}, "defaultKernel": "python3"}
//
// Types map onto Kind values: path → PathDefault, conda-root → ManagerRoot,
// conda-env and venv → ManagedEnv, registry → PlatformRegistry.
//
// VersionRequirement pairs a module with a semantic version range
// (Masterminds/semver). Satisfies checks an environment against a set of
// requirements, comparing suffix-stripped versions.
package environment
