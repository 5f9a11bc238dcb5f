package command

import (
	"fmt"
	"strconv"
	"strings"

	"drawbot/prompt"
	"drawbot/providers"
)

// HelpText describes the drawing command and the admin commands.
func (r *Router) HelpText() string {
	first := ""
	if len(r.cfg.Prefixes) > 0 {
		first = r.cfg.Prefixes[0]
	}

	var b strings.Builder
	b.WriteString("Drawing plugin usage\n")
	fmt.Fprintf(&b, "1. Start a message with %s to draw.\n", strings.Join(r.cfg.Prefixes, ", "))
	b.WriteString("2. Add '--m <model>' after the prompt to pick a model, e.g. --m sdxl\n")
	b.WriteString("3. Add '--ar <ratio>' to pick the aspect ratio, e.g. --ar 16:9\n")
	b.WriteString("4. Include an image URL in the prompt for image-to-image generation.\n")
	fmt.Fprintf(&b, "Example: %s a cute kitten --m dev --ar 16:9\n\n", first)
	b.WriteString("Your prompt is rewritten by an AI model before drawing.\n")
	fmt.Fprintf(&b, "Text-to-image models: %s\n", strings.Join(providers.TextToImageModels(), ", "))
	fmt.Fprintf(&b, "Image-to-image models: %s\n", strings.Join(providers.ImageToImageModels(), ", "))
	fmt.Fprintf(&b, "Aspect ratios: %s\n", strings.Join(prompt.SupportedRatios(), ", "))
	if r.usage != nil && r.usage.RestrictedModel() != "" {
		fmt.Fprintf(&b, "The %s model is limited to %d uses per day.\n", r.usage.RestrictedModel(), r.usage.Limit())
	}
	fmt.Fprintf(&b, "Images are deleted after %s days.\n", strconv.FormatFloat(r.cfg.CleanInterval, 'f', -1, 64))
	fmt.Fprintf(&b, "Send '%s <password>' to become an admin. Admins have no daily limit and can send '%s' to delete all images.\n",
		authenticateCommand, cleanAllCommand)
	return b.String()
}
