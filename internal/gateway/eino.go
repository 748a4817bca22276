package gateway

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const sentimentSystemPrompt = `You are an AI sentiment analyst specializing in detecting loneliness and distress in user text.
Analyze the user's text and determine its overall sentiment, providing a sentiment score between -1 (very negative/distressed) and 1 (very positive).
Identify specific indicators of loneliness or distress, such as keywords or phrases.
Respond ONLY with a JSON object carrying the keys "sentiment" (string, e.g. positive, negative, neutral, lonely, distressed), "score" (number) and "indicators" (array of strings).`

const translationSystemPrompt = `You are a precise translator.
Translate the user's text into the requested language, preserving tone and intent.
Respond ONLY with a JSON object carrying the key "translatedText" (string).`

const replySystemPrompt = `You are a Digital Twin. Your task is to become a specific person based on the data provided.
You will receive a chat history to learn their communication style, detected emotional context to inform your tone, and the user's current message to respond to.
Analyze the chat history to understand personality, common phrases and general demeanor.
Generate a response to the user's input that is authentic to the persona you are emulating.
DO NOT break character. You are not an AI assistant; you ARE the persona.
You may request configuration changes by emitting tool calls. Available tools:
- "changeLanguage": switch the spoken language; arguments carry the key "language" (string).
- "changeVoiceGender": switch the synthesized voice; arguments carry the key "gender" ("female" or "male").
Respond ONLY with a JSON object carrying the keys "response" (string) and optionally "toolCalls" (array of objects, each with "name" (string) and "arguments" (object)).`

// TextService runs the text-only gateway operations on the configured chat
// model: sentiment analysis, translation and adaptive reply generation.
type TextService struct {
	chatModel model.ChatModel
}

// NewTextService wraps an already-constructed chat model.
func NewTextService(chatModel model.ChatModel) *TextService {
	return &TextService{chatModel: chatModel}
}

// AnalyzeText scores the sentiment of an utterance.
func (s *TextService) AnalyzeText(ctx context.Context, text string) (*TextSentiment, error) {
	messages := []*schema.Message{
		schema.SystemMessage(sentimentSystemPrompt),
		schema.UserMessage(text),
	}

	resp, err := s.chatModel.Generate(ctx, messages)
	if err != nil {
		return nil, remoteErr(KindSentiment, err)
	}

	var out TextSentiment
	if err := decodeModelJSON(resp.Content, &out); err != nil {
		return nil, remoteErr(KindSentiment, fmt.Errorf("decode sentiment output: %w", err))
	}
	return &out, nil
}

// Translate renders text into the target language.
func (s *TextService) Translate(ctx context.Context, text, targetLanguage string) (*Translation, error) {
	messages := []*schema.Message{
		schema.SystemMessage(translationSystemPrompt),
		schema.UserMessage(fmt.Sprintf("Target language: %s\n\nText:\n%s", targetLanguage, text)),
	}

	resp, err := s.chatModel.Generate(ctx, messages)
	if err != nil {
		return nil, remoteErr(KindTranslation, err)
	}

	var out Translation
	if err := decodeModelJSON(resp.Content, &out); err != nil {
		return nil, remoteErr(KindTranslation, fmt.Errorf("decode translation output: %w", err))
	}
	if out.TranslatedText == "" {
		return nil, remoteErr(KindTranslation, fmt.Errorf("empty translation"))
	}
	return &out, nil
}

// GenerateReply produces the persona's answer plus any tool invocations.
func (s *TextService) GenerateReply(ctx context.Context, in ReplyInput) (*Reply, error) {
	messages := []*schema.Message{
		schema.SystemMessage(replySystemPrompt),
		schema.UserMessage(buildReplyPrompt(in)),
	}

	resp, err := s.chatModel.Generate(ctx, messages)
	if err != nil {
		return nil, remoteErr(KindReply, err)
	}

	var out Reply
	if err := decodeModelJSON(resp.Content, &out); err != nil {
		return nil, remoteErr(KindReply, fmt.Errorf("decode reply output: %w", err))
	}
	if out.Response == "" {
		return nil, remoteErr(KindReply, fmt.Errorf("empty reply"))
	}

	log.Printf("[gateway] generated reply, length=%d, toolCalls=%d", len(out.Response), len(out.ToolCalls))
	return &out, nil
}

func buildReplyPrompt(in ReplyInput) string {
	var b strings.Builder
	b.WriteString("PERSONA CHAT HISTORY (learn this style):\n")
	for _, line := range in.PastConversations {
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("\nDETECTED EMOTIONAL CONTEXT (use this for tone):\n")
	if in.EmotionLabel == "" {
		b.WriteString("neutral")
	} else {
		b.WriteString(in.EmotionLabel)
	}
	b.WriteString("\n\nCURRENT CONVERSATION (respond to the last message):\nUser: ")
	b.WriteString(in.UserInput)
	b.WriteString("\nPersona:")
	return b.String()
}
