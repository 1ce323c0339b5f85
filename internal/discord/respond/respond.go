// Package respond sends interaction replies. Commands and middleware use it so they
// never import the bot runtime.
package respond

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	embed "github.com/clinet/discordgo-embed"
)

const (
	EmbedColor = 0x2f6f9f
	ErrorColor = 0xb01e1e
	DenyColor  = 0xd98c1a
)

// Session is the part of *discordgo.Session used for replies.
type Session interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Embed sends a public embed response.
func Embed(s Session, i *discordgo.InteractionCreate, e *discordgo.MessageEmbed) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{e}},
	})
}

// EmbedEphemeral sends an embed only the invoker can see.
func EmbedEphemeral(s Session, i *discordgo.InteractionCreate, e *discordgo.MessageEmbed) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags:  discordgo.MessageFlagsEphemeral,
			Embeds: []*discordgo.MessageEmbed{e},
		},
	})
}

// Defer acknowledges the interaction; the reply follows through Edit.
func Defer(s Session, i *discordgo.InteractionCreate, ephemeral bool) error {
	data := &discordgo.InteractionResponseData{}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: data,
	})
}

// Edit replaces the deferred response with e.
func Edit(s Session, i *discordgo.InteractionCreate, e *discordgo.MessageEmbed) error {
	embeds := []*discordgo.MessageEmbed{e}
	_, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Embeds: &embeds})
	return err
}

func Info(description string) *discordgo.MessageEmbed {
	return embed.NewEmbed().SetColor(EmbedColor).SetDescription(description).MessageEmbed
}

func Success(title, description string) *discordgo.MessageEmbed {
	return embed.NewEmbed().
		SetColor(EmbedColor).
		SetTitle(title).
		SetDescription(description).
		MessageEmbed
}

func Error(err error) *discordgo.MessageEmbed {
	return embed.NewEmbed().
		SetColor(ErrorColor).
		SetDescription(fmt.Sprintf("❌ %v", err)).
		MessageEmbed
}

// Denied describes why a command was refused. category is machine readable and goes
// into the footer.
func Denied(category, reason string) *discordgo.MessageEmbed {
	return embed.NewEmbed().
		SetColor(DenyColor).
		SetTitle("⛔ Not allowed").
		SetDescription(reason).
		SetFooter(category).
		MessageEmbed
}

// Fields builds an embed from ordered name/value pairs.
func Fields(title string, pairs ...[2]string) *discordgo.MessageEmbed {
	e := embed.NewEmbed().SetColor(EmbedColor).SetTitle(title)
	for _, p := range pairs {
		e = e.AddField(p[0], p[1])
	}
	return e.MessageEmbed
}
