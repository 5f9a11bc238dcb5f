// Package command routes chat messages to the admin commands and the drawing
// pipeline and turns the outcome into a reply.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"drawbot/admin"
	"drawbot/prompt"
	"drawbot/providers"
	"drawbot/usage"

	"github.com/google/uuid"
)

const (
	setPasswordCommand  = "$set_sf_admin_password"
	authenticateCommand = "$sf_admin_password"
	cleanAllCommand     = "clean_all"
)

// ReplyType tells the host how to deliver a reply.
type ReplyType string

const (
	ReplyText  ReplyType = "text"
	ReplyImage ReplyType = "image"
	ReplyError ReplyType = "error"
)

// Reply is the answer to a handled message.
type Reply struct {
	Type        ReplyType
	Text        string
	Image       []byte
	ContentType string
	Path        string // saved file, image replies only
	HostedURL   string // set when the image was mirrored to the image host
}

// Enhancer rewrites a prompt before generation.
type Enhancer interface {
	Enhance(ctx context.Context, prompt, modelKey string) string
}

// ImageStore persists generated images.
type ImageStore interface {
	DownloadAndSave(ctx context.Context, url string) (string, error)
	PurgeAll() (deleted, remaining int, err error)
}

// Uploader mirrors a saved image to an external host.
type Uploader interface {
	UploadImage(ctx context.Context, data []byte, filename string) (string, error)
}

// Config holds the router settings.
type Config struct {
	Prefixes      []string
	Timeout       time.Duration // per drawing request, zero disables it
	CleanInterval float64       // retention in days, shown in the help text
}

// Deps are the collaborators used by the router. Uploader may be nil.
type Deps struct {
	Admins    *admin.Registry
	Usage     *usage.Tracker
	Parser    *prompt.Parser
	Enhancer  Enhancer
	Generator providers.ImageProvider
	Images    ImageStore
	Uploader  Uploader
}

// Router dispatches incoming text messages.
type Router struct {
	cfg       Config
	admins    *admin.Registry
	usage     *usage.Tracker
	parser    *prompt.Parser
	enhancer  Enhancer
	generator providers.ImageProvider
	images    ImageStore
	uploader  Uploader
	log       *slog.Logger
	now       func() time.Time
}

// NewRouter creates a Router.
func NewRouter(cfg Config, deps Deps, log *slog.Logger) *Router {
	return &Router{
		cfg:       cfg,
		admins:    deps.Admins,
		usage:     deps.Usage,
		parser:    deps.Parser,
		enhancer:  deps.Enhancer,
		generator: deps.Generator,
		images:    deps.Images,
		uploader:  deps.Uploader,
		log:       log,
		now:       time.Now,
	}
}

// Handle processes one message from user. The returned bool reports whether
// the message was meant for this plugin; when false the reply is empty and
// other handlers may process the message.
func (r *Router) Handle(ctx context.Context, user, text string) (reply Reply, handled bool) {
	content := strings.TrimSpace(text)
	log := r.log.With("request_id", uuid.NewString(), "user", user)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("panic while handling message", "panic", rec, "stack", string(debug.Stack()))
			reply, handled = errorReply("An internal error occurred."), true
		}
	}()

	if arg, ok := cutCommand(content, setPasswordCommand); ok {
		return r.setPassword(log, user, arg), true
	}
	if arg, ok := cutCommand(content, authenticateCommand); ok {
		return r.authenticate(log, user, arg), true
	}
	if strings.EqualFold(content, cleanAllCommand) {
		return r.cleanAll(log, user), true
	}

	body, ok := r.stripPrefix(content)
	if !ok {
		return Reply{}, false
	}

	log.Debug("received drawing command", "content", content)
	return r.draw(ctx, log, user, body), true
}

func (r *Router) setPassword(log *slog.Logger, user, password string) Reply {
	if !r.admins.IsAdmin(user) {
		return textReply("You do not have permission to do this. Only admins can set the admin password.")
	}
	if password == "" {
		return textReply("Please provide a new admin password. Usage: " + setPasswordCommand + " <password>")
	}
	if err := r.admins.SetPassword(password); err != nil {
		log.Error("failed to update admin password", "error", err)
		return errorReply("Failed to save the new admin password.")
	}
	return textReply("Admin password updated.")
}

func (r *Router) authenticate(log *slog.Logger, user, supplied string) Reply {
	if supplied == "" {
		return textReply("Please provide the admin password. Usage: " + authenticateCommand + " <password>")
	}

	ok, err := r.admins.Authenticate(user, supplied, r.admins.Password())
	if err != nil {
		log.Error("failed to persist admin users", "error", err)
	}
	if !ok {
		log.Warn("admin authentication failed")
		return textReply("Wrong admin password, authentication failed.")
	}
	return textReply("Admin authentication succeeded, you are now an admin.")
}

func (r *Router) cleanAll(log *slog.Logger, user string) Reply {
	if !r.admins.IsAdmin(user) {
		return textReply("You do not have permission to do this.")
	}

	deleted, remaining, err := r.images.PurgeAll()
	if err != nil {
		log.Error("failed to purge images", "error", err, "deleted", deleted)
		return errorReply(fmt.Sprintf("Cleanup failed after deleting %d images: %v", deleted, err))
	}

	log.Info("all images purged", "deleted", deleted, "remaining", remaining)
	return textReply(fmt.Sprintf("Cleanup finished: deleted %d images, %d images remain.", deleted, remaining))
}

func (r *Router) draw(ctx context.Context, log *slog.Logger, user, body string) Reply {
	if _, err := r.usage.ResetIfDue(ctx, r.now()); err != nil {
		log.Error("failed to reset daily usage", "error", err)
	}

	if body == "" || strings.EqualFold(body, "help") {
		return textReply(r.HelpText())
	}

	cmd := r.parser.Parse(body)

	if !r.admins.IsAdmin(user) {
		allowed, err := r.usage.CheckAndIncrement(ctx, user, cmd.ModelKey)
		if err != nil {
			log.Error("failed to check usage", "error", err)
			return errorReply("Failed to check your usage, please try again later.")
		}
		if !allowed {
			log.Info("daily limit reached", "model", cmd.ModelKey, "limit", r.usage.Limit())
			return textReply(fmt.Sprintf("You have reached today's limit for the %s model (%d uses).", cmd.ModelKey, r.usage.Limit()))
		}
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	reply, err := r.generate(ctx, log, cmd)
	if err != nil {
		log.Error("drawing failed", "error", err, "model", cmd.ModelKey)
		if errors.Is(err, context.DeadlineExceeded) {
			return errorReply("Image generation timed out.")
		}
		return errorReply("An error occurred: " + err.Error())
	}
	return reply
}

func (r *Router) generate(ctx context.Context, log *slog.Logger, cmd prompt.Command) (Reply, error) {
	enhanced := r.enhancer.Enhance(ctx, prompt.RemoveImageURLs(cmd.Prompt), cmd.ModelKey)
	log.Debug("prompt enhanced", "prompt", enhanced)

	out, err := r.generator.Generate(ctx, providers.GenerationInput{
		Prompt:         enhanced,
		SourceImageURL: cmd.SourceImageURL,
		ModelKey:       cmd.ModelKey,
		Size:           cmd.ImageSize,
	})
	if err != nil {
		return Reply{}, err
	}
	log.Debug("image generated upstream", "provider", r.generator.GetName(), "url", out.ImageURL, "seed", out.Seed)

	path, err := r.images.DownloadAndSave(ctx, out.ImageURL)
	if err != nil {
		return Reply{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Reply{}, fmt.Errorf("command: failed to read saved image: %w", err)
	}

	reply := Reply{
		Type:        ReplyImage,
		Image:       data,
		ContentType: http.DetectContentType(data),
		Path:        path,
	}

	if r.uploader != nil {
		hosted, err := r.uploader.UploadImage(ctx, data, filepath.Base(path))
		if err != nil {
			log.Warn("image host upload failed", "error", err)
		} else {
			reply.HostedURL = hosted
		}
	}

	log.Info("image generated", "model", cmd.ModelKey, "size", cmd.ImageSize, "path", path)
	return reply, nil
}

// stripPrefix removes the first matching drawing prefix from content.
func (r *Router) stripPrefix(content string) (string, bool) {
	for _, prefix := range r.cfg.Prefixes {
		if prefix != "" && strings.HasPrefix(content, prefix) {
			return strings.TrimSpace(content[len(prefix):]), true
		}
	}
	return "", false
}

// cutCommand reports whether content is name, optionally followed by
// whitespace and an argument, and returns the trimmed argument.
func cutCommand(content, name string) (string, bool) {
	rest, ok := strings.CutPrefix(content, name)
	if !ok {
		return "", false
	}
	if rest == "" {
		return "", true
	}
	if r, _ := utf8.DecodeRuneInString(rest); !unicode.IsSpace(r) {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

func textReply(text string) Reply {
	return Reply{Type: ReplyText, Text: text}
}

func errorReply(text string) Reply {
	return Reply{Type: ReplyError, Text: text}
}
