package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/reviewpilot/rp/internal/models"
)

// ErrEmptyCompletion indicates the model returned no usable text. This is not
// retryable: the review is counted as processed without a response.
var ErrEmptyCompletion = errors.New("empty completion from model")

// BusinessProfile describes the business on whose behalf replies are written.
type BusinessProfile struct {
	Name      string
	Website   string
	Signature string
	Facts     []string
}

// Client wraps the Anthropic API for reply generation.
type Client struct {
	api      *anthropic.Client
	model    anthropic.Model
	business BusinessProfile
}

// NewClient creates an LLM client with the given API key and model.
func NewClient(apiKey, model string, business BusinessProfile) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:      &client,
		model:    anthropic.Model(model),
		business: business,
	}
}

// toneInstruction maps a tone label to its writing instruction. Unknown tones
// fall back to professional.
func toneInstruction(tone string) string {
	switch tone {
	case models.ToneFriendly:
		return "Usa un tono caldo e amichevole, come se stessi parlando con un cliente di fiducia."
	case models.ToneFormal:
		return "Usa un tono formale e istituzionale, appropriato per comunicazioni ufficiali."
	case models.ToneEmpathetic:
		return "Usa un tono empatico e comprensivo, mostrando attenzione per le esigenze del cliente."
	default:
		return "Usa un tono professionale e rispettoso, mantenendo formalita' adeguata."
	}
}

// buildReplyPrompt constructs the system and user prompts for a review reply.
func (c *Client) buildReplyPrompt(review *models.Review, instruction, tone string) (system string, user string) {
	signature := c.business.Signature
	if signature == "" {
		signature = "Lo staff di " + c.business.Name
	}

	var sys strings.Builder
	fmt.Fprintf(&sys, "Sei il responsabile della comunicazione di %s", c.business.Name)
	if c.business.Website != "" {
		fmt.Fprintf(&sys, " (%s)", c.business.Website)
	}
	sys.WriteString(".\nLa tua task e' rispondere alle recensioni dei clienti in modo professionale, utile e personalizzato.\n\n")

	sys.WriteString("ISTRUZIONI GENERALI:\n")
	sys.WriteString("- Rispondi SEMPRE in italiano\n")
	sys.WriteString("- " + toneInstruction(tone) + "\n")
	sys.WriteString("- Ringrazia sempre il cliente per il tempo dedicato a lasciare una recensione\n")
	sys.WriteString("- Se la recensione e' positiva, esprimi gratitudine e invita a tornare\n")
	sys.WriteString("- Se la recensione e' negativa, mostra empatia, scusati se necessario e proponi una soluzione o un modo per rimediare\n")
	sys.WriteString("- Se la recensione e' mista, ringrazia per gli aspetti positivi e affronta costruttivamente quelli negativi\n")
	sys.WriteString("- Mantieni le risposte concise ma complete (2-4 frasi massimo)\n")
	fmt.Fprintf(&sys, "- Firma sempre la risposta con %q o una variante appropriata\n", signature)
	sys.WriteString("- Non usare emoji eccessive (massimo 1-2 se appropriate)\n")

	if len(c.business.Facts) > 0 {
		fmt.Fprintf(&sys, "\nINFORMAZIONI SU %s:\n", strings.ToUpper(c.business.Name))
		for _, fact := range c.business.Facts {
			sys.WriteString("- " + fact + "\n")
		}
	}

	sys.WriteString("\nINDICAZIONI PERSONALIZZATE:\n")
	if instruction != "" {
		sys.WriteString(instruction)
	} else {
		sys.WriteString("Nessuna indicazione aggiuntiva fornita.")
	}

	var usr strings.Builder
	fmt.Fprintf(&usr, "Valutazione: %d/5 stelle\n", review.Rating)
	if review.AuthorName != "" {
		fmt.Fprintf(&usr, "Nome del cliente: %s\n", review.AuthorName)
	}
	if review.Title != "" {
		fmt.Fprintf(&usr, "Titolo: %s\n", review.Title)
	}
	usr.WriteString("\nRECENSIONE DEL CLIENTE:\n")
	fmt.Fprintf(&usr, "%q\n\n", review.Text)
	usr.WriteString("Scrivi una risposta appropriata a questa recensione.")

	return sys.String(), usr.String()
}

// GenerateReply generates a reply draft for a review using the given policy
// instruction and tone. Transport failures are retried once; a well-formed
// but empty completion is ErrEmptyCompletion and is not retried. Results are
// never cached: the policy or review content may have changed between calls.
func (c *Client) GenerateReply(ctx context.Context, review *models.Review, instruction, tone string) (string, error) {
	systemPrompt, userPrompt := c.buildReplyPrompt(review, instruction, tone)

	text, err := c.complete(ctx, systemPrompt, userPrompt)
	if err != nil && retryable(err) {
		text, err = c.complete(ctx, systemPrompt, userPrompt)
	}
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", nil
}

// retryable reports whether an error is worth one more attempt: transport
// errors and server-side failures, but not client errors or cancellation.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return apierr.StatusCode >= 500 || apierr.StatusCode == 429
	}
	return true
}
