package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/booltox/toolhost/internal/deps"
	"github.com/booltox/toolhost/internal/manifest"
)

// preflight installs dependencies declared by requirementsPath when the
// checker says they are missing. An empty path means nothing to check.
func (o *Options) preflight(ctx context.Context, req Request, requirementsPath string) error {
	if requirementsPath == "" || o.Checker == nil {
		return nil
	}
	need, err := o.Checker.NeedsSetup(ctx, req.ToolID, requirementsPath)
	if err != nil {
		return launchErr(req, ReasonDependencyFailed, err)
	}
	if !need {
		return nil
	}
	if o.Installer == nil {
		return launchErr(req, ReasonDependencyFailed, fmt.Errorf("dependencies in %s are not installed", requirementsPath))
	}

	o.Logger.Info("Installing tool dependencies",
		zap.String("tool_id", req.ToolID),
		zap.String("requirements", requirementsPath))
	res, err := o.Installer.Install(ctx, req.ToolID, requirementsPath)
	switch {
	case err != nil:
		return launchErr(req, ReasonDependencyFailed, err)
	case res.Cancelled:
		return launchErr(req, ReasonDependencyCancelled, errors.New("dependency installation was cancelled"))
	case !res.Success:
		return launchErr(req, ReasonDependencyFailed, errors.New("dependency installation did not succeed"))
	}
	return nil
}

// requirementsFor returns the dependency artifact of a backend: the declared
// requirements file for python, package.json for node.
func requirementsFor(toolPath string, b manifest.Backend) string {
	switch b.Type {
	case manifest.BackendPython:
		if b.Requirements != "" {
			return resolveIn(toolPath, b.Requirements)
		}
	case manifest.BackendNode:
		pkg := filepath.Join(toolPath, "package.json")
		if _, err := os.Stat(pkg); err == nil {
			return pkg
		}
	}
	return ""
}

// resolveIn resolves p against the tool directory unless it is absolute.
func resolveIn(toolPath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(toolPath, p)
}

// python returns the interpreter for a tool: its virtual environment when
// one exists, the configured interpreter otherwise.
func (o *Options) python(toolID string) pythonEnv {
	if o.EnvDir != "" {
		venv := deps.VenvDir(o.EnvDir, toolID)
		py := deps.VenvPython(venv, o.goos())
		if _, err := os.Stat(py); err == nil {
			return pythonEnv{Interpreter: py, VenvDir: venv}
		}
	}
	return pythonEnv{Interpreter: o.Interpreters.Python}
}

// command builds the argv for a backend and the python environment, if any.
func (o *Options) command(req Request, b manifest.Backend) (string, []string, *pythonEnv, error) {
	entry, err := b.Entry.Resolve(o.goos())
	if err != nil {
		return "", nil, nil, launchErr(req, ReasonSpawn, err)
	}
	entryPath := resolveIn(req.ToolPath, entry)

	switch b.Type {
	case manifest.BackendPython:
		if err := mustExist(req, entryPath); err != nil {
			return "", nil, nil, err
		}
		py := o.python(req.ToolID)
		for _, p := range b.PythonPath {
			py.SearchPath = append(py.SearchPath, resolveIn(req.ToolPath, p))
		}
		return py.Interpreter, append([]string{entryPath}, b.Args...), &py, nil

	case manifest.BackendNode:
		if err := mustExist(req, entryPath); err != nil {
			return "", nil, nil, err
		}
		return o.Interpreters.Node, append([]string{entryPath}, b.Args...), nil, nil

	case manifest.BackendProcess:
		if _, err := os.Stat(entryPath); err == nil {
			return entryPath, b.Args, nil, nil
		}
		// A bare command name may live on PATH.
		if filepath.Base(entry) == entry {
			if found, err := exec.LookPath(entry); err == nil {
				return found, b.Args, nil, nil
			}
		}
		return "", nil, nil, &LaunchError{
			ToolID: req.ToolID, Kind: req.Manifest.Kind(), Reason: ReasonMissingExecutable,
			Path: entryPath, Err: errors.New("executable not found"),
		}

	default:
		return "", nil, nil, launchErr(req, ReasonUnsupportedBackend, fmt.Errorf("backend type %q", b.Type))
	}
}

func mustExist(req Request, path string) error {
	if _, err := os.Stat(path); err != nil {
		return &LaunchError{
			ToolID: req.ToolID, Kind: req.Manifest.Kind(), Reason: ReasonMissingExecutable,
			Path: path, Err: errors.New("entry file not found"),
		}
	}
	return nil
}
