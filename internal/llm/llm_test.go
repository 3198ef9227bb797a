package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reviewpilot/rp/internal/models"
)

func testClient() *Client {
	return NewClient("", "claude-haiku-4-5-20251001", BusinessProfile{
		Name:      "Farmacia Soccavo",
		Website:   "https://farmaciasoccavo.it",
		Signature: "Il team di Farmacia Soccavo",
		Facts:     []string{"Consegna a domicilio in giornata", "Aperta dal lunedi al sabato"},
	})
}

func testReviewFor(rating int) *models.Review {
	return &models.Review{
		AuthorName: "Mario Rossi",
		Title:      "Ottimo servizio",
		Text:       "Consegna rapida e personale gentile.",
		Rating:     rating,
	}
}

func TestBuildReplyPrompt(t *testing.T) {
	t.Run("system prompt carries business identity", func(t *testing.T) {
		system, _ := testClient().buildReplyPrompt(testReviewFor(5), "", models.ToneProfessional)

		assert.Contains(t, system, "Farmacia Soccavo")
		assert.Contains(t, system, "https://farmaciasoccavo.it")
		assert.Contains(t, system, "Il team di Farmacia Soccavo")
		assert.Contains(t, system, "INFORMAZIONI SU FARMACIA SOCCAVO")
		assert.Contains(t, system, "Consegna a domicilio in giornata")
		assert.Contains(t, system, "Rispondi SEMPRE in italiano")
	})

	t.Run("user prompt carries the review", func(t *testing.T) {
		_, user := testClient().buildReplyPrompt(testReviewFor(4), "", models.ToneProfessional)

		assert.Contains(t, user, "Valutazione: 4/5 stelle")
		assert.Contains(t, user, "Mario Rossi")
		assert.Contains(t, user, "Ottimo servizio")
		assert.Contains(t, user, "Consegna rapida e personale gentile.")
	})

	t.Run("anonymous untitled review", func(t *testing.T) {
		r := testReviewFor(3)
		r.AuthorName = ""
		r.Title = ""
		_, user := testClient().buildReplyPrompt(r, "", models.ToneProfessional)

		assert.NotContains(t, user, "Nome del cliente")
		assert.NotContains(t, user, "Titolo")
	})

	t.Run("policy instruction is included", func(t *testing.T) {
		system, _ := testClient().buildReplyPrompt(testReviewFor(1), "NON essere difensivo.", models.ToneEmpathetic)

		assert.Contains(t, system, "INDICAZIONI PERSONALIZZATE")
		assert.Contains(t, system, "NON essere difensivo.")
	})

	t.Run("empty instruction gets placeholder", func(t *testing.T) {
		system, _ := testClient().buildReplyPrompt(testReviewFor(5), "", models.ToneProfessional)

		assert.Contains(t, system, "Nessuna indicazione aggiuntiva fornita.")
	})

	t.Run("missing signature falls back to staff", func(t *testing.T) {
		c := NewClient("", "claude-haiku-4-5-20251001", BusinessProfile{Name: "Farmacia Soccavo"})
		system, _ := c.buildReplyPrompt(testReviewFor(5), "", models.ToneProfessional)

		assert.Contains(t, system, "Lo staff di Farmacia Soccavo")
	})
}

func TestToneInstruction(t *testing.T) {
	assert.Contains(t, toneInstruction(models.ToneFriendly), "amichevole")
	assert.Contains(t, toneInstruction(models.ToneFormal), "formale")
	assert.Contains(t, toneInstruction(models.ToneEmpathetic), "empatico")
	assert.Contains(t, toneInstruction(models.ToneProfessional), "professionale")

	// Unknown tones fall back to professional
	assert.Equal(t, toneInstruction(models.ToneProfessional), toneInstruction("sarcastico"))
}

func TestRetryable(t *testing.T) {
	assert.False(t, retryable(context.Canceled))
	assert.False(t, retryable(context.DeadlineExceeded))
	assert.True(t, retryable(errors.New("connection reset")))
}
