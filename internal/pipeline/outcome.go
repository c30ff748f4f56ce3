package pipeline

import "log/slog"

// Step of a pipeline run.
type Phase string

const (
	PhasePreflight Phase = "preflight" // Credentials, plan and scope checks.
	PhaseBuild     Phase = "build"     // Engine build.
	PhaseVerify    Phase = "verify"    // Confinement scan.
	PhaseTag       Phase = "tag"       // Tagging.
	PhaseDeploy    Phase = "deploy"    // External deployment.
)

// Result of a build, passed from the build stage to the deploy stage.
type Outcome struct {
	Phase     Phase             // Last phase entered. The failing phase when Err is set.
	ImageID   string            // Engine identity of the built image.
	Image     string            // Reference the image was tagged with.
	Artifacts map[string]string // Artifact paths by producing stage.
	Err       error             // Why the build failed. Nil on success.
}

// Whether the build produced a tagged image.
func (o Outcome) OK() bool {
	return o.Err == nil && o.Image != ""
}

// Implements [slog.LogValuer].
func (o Outcome) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("phase", string(o.Phase))}
	if o.Image != "" {
		attrs = append(attrs, slog.String("image", o.Image))
	}
	if o.Err != nil {
		attrs = append(attrs, slog.String("error", o.Err.Error()))
	}
	return slog.GroupValue(attrs...)
}
