package services

import (
	"context"
	"errors"
	"fmt"
	"guardian/models"
	"guardian/utils"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

const (
	DefaultTextModel = "gemini-2.5-flash"
	DefaultTTSModel  = "gemini-2.5-flash-preview-tts"
	DefaultVoice     = "Kore"

	DefaultCalmingMessage = "Help is being contacted. Please remain calm and stay where you are."

	emptyScriptFallback = "This is an emergency. Help needed at current location."
	facilityAddressMax  = 100
)

// FallbackFacility is returned whenever the facility lookup fails.
var FallbackFacility = models.HospitalInfo{
	Name:    "Local Hospital",
	Address: "Unable to locate specifically",
}

var ErrNoAudioData = errors.New("no audio data received from model")

// ScriptWriter produces the sentence read to the emergency operator. It
// never fails; errors are replaced with a fallback script.
type ScriptWriter interface {
	GenerateScript(ctx context.Context, profile models.UserProfile, coords models.Coordinates, situation string) string
}

// FacilityLocator finds the closest emergency room. It never fails.
type FacilityLocator interface {
	FindNearestFacility(ctx context.Context, coords models.Coordinates) models.HospitalInfo
}

// CalmingVoice synthesizes a short spoken message for the user.
type CalmingVoice interface {
	SynthesizeCalmingAudio(ctx context.Context, situation string) ([]byte, error)
}

// AdvisoryServices bundles the three AI capabilities the sequencer uses.
type AdvisoryServices interface {
	ScriptWriter
	FacilityLocator
	CalmingVoice
}

// contentGenerator is the part of the genai client the advisory service uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiConfig struct {
	APIKey    string
	TextModel string
	TTSModel  string
	Voice     string
}

type GeminiAdvisoryService struct {
	generator contentGenerator
	textModel string
	ttsModel  string
	voice     string
}

func NewGeminiAdvisoryService(ctx context.Context, cfg GeminiConfig) (*GeminiAdvisoryService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return newGeminiAdvisoryService(client.Models, cfg), nil
}

func newGeminiAdvisoryService(generator contentGenerator, cfg GeminiConfig) *GeminiAdvisoryService {
	return &GeminiAdvisoryService{
		generator: generator,
		textModel: utils.FirstNonEmpty(cfg.TextModel, DefaultTextModel),
		ttsModel:  utils.FirstNonEmpty(cfg.TTSModel, DefaultTTSModel),
		voice:     utils.FirstNonEmpty(cfg.Voice, DefaultVoice),
	}
}

// =================== SCRIPT ===================

func (s *GeminiAdvisoryService) GenerateScript(ctx context.Context, profile models.UserProfile, coords models.Coordinates, situation string) string {
	prompt := fmt.Sprintf(`Emergency Context:
User: %s
Conditions: %s
Location: Lat %v, Long %v (Approx address: %s)
Situation: %s

Task: Write a concise, clear emergency script (max 35 words) that a user should read to a 911 operator.
It must state "This is an emergency", the specific condition, and the location clearly.`,
		profile.Name, profile.MedicalConditions, coords.Latitude, coords.Longitude, profile.Address, situation)

	resp, err := s.generator.GenerateContent(ctx, s.textModel, genai.Text(prompt), nil)
	if err != nil {
		logAdvisorError(ctx, err, "Script generation failed")
		return fallbackScript(profile)
	}

	text := strings.TrimSpace(responseText(resp))
	if text == "" {
		return emptyScriptFallback
	}
	return text
}

func fallbackScript(profile models.UserProfile) string {
	return fmt.Sprintf("This is an emergency. %s needs help at current location.", profile.Name)
}

// =================== FACILITY ===================

func (s *GeminiAdvisoryService) FindNearestFacility(ctx context.Context, coords models.Coordinates) models.HospitalInfo {
	config := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleMaps: &genai.GoogleMaps{}}},
		ToolConfig: &genai.ToolConfig{
			RetrievalConfig: &genai.RetrievalConfig{
				LatLng: &genai.LatLng{
					Latitude:  genai.Ptr(coords.Latitude),
					Longitude: genai.Ptr(coords.Longitude),
				},
			},
		},
	}

	resp, err := s.generator.GenerateContent(ctx, s.textModel,
		genai.Text("Find the nearest emergency room or hospital to my location. Return just the name and address."),
		config)
	if err != nil {
		logAdvisorError(ctx, err, "Hospital search failed")
		return FallbackFacility
	}

	text := strings.TrimSpace(responseText(resp))
	if hasGroundingChunks(resp) {
		return models.HospitalInfo{
			Name:    "Nearest Emergency Facility",
			Address: utils.TruncateRunes(text, facilityAddressMax),
		}
	}
	if text == "" {
		return FallbackFacility
	}
	return models.HospitalInfo{
		Name:    "Local Emergency Services",
		Address: text,
	}
}

// =================== CALMING AUDIO ===================

func (s *GeminiAdvisoryService) SynthesizeCalmingAudio(ctx context.Context, situation string) ([]byte, error) {
	message := s.calmingMessage(ctx, situation)

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: s.voice},
			},
		},
	}

	resp, err := s.generator.GenerateContent(ctx, s.ttsModel, genai.Text(message), config)
	if err != nil {
		return nil, fmt.Errorf("calming audio synthesis failed: %w", err)
	}

	data := responseAudio(resp)
	if len(data) == 0 {
		return nil, ErrNoAudioData
	}
	return data, nil
}

// calmingMessage asks the text model for one sentence. The TTS model
// rejects instruction prompts, so it only ever receives the final text.
func (s *GeminiAdvisoryService) calmingMessage(ctx context.Context, situation string) string {
	prompt := fmt.Sprintf(`Situation: %s
Task: Write a single, short, calming sentence to say to the user.
Example: "Help is on the way, breathe slowly."`, situation)

	resp, err := s.generator.GenerateContent(ctx, s.textModel, genai.Text(prompt), nil)
	if err != nil {
		logrus.WithError(err).Warn("Failed to generate custom calming text, using default")
		return DefaultCalmingMessage
	}
	if text := strings.TrimSpace(responseText(resp)); text != "" {
		return text
	}
	return DefaultCalmingMessage
}

// logAdvisorError drops to debug when the emergency was cancelled while the
// call was in flight.
func logAdvisorError(ctx context.Context, err error, message string) {
	if errors.Is(ctx.Err(), context.Canceled) {
		logrus.WithError(err).Debug(message + ": emergency ended")
		return
	}
	logrus.WithError(err).Error(message)
}

// =================== RESPONSE HELPERS ===================

func firstCandidate(resp *genai.GenerateContentResponse) *genai.Candidate {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	return resp.Candidates[0]
}

func responseText(resp *genai.GenerateContentResponse) string {
	candidate := firstCandidate(resp)
	if candidate == nil || candidate.Content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

func responseAudio(resp *genai.GenerateContentResponse) []byte {
	candidate := firstCandidate(resp)
	if candidate == nil || candidate.Content == nil {
		return nil
	}
	for _, part := range candidate.Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData.Data
		}
	}
	return nil
}

func hasGroundingChunks(resp *genai.GenerateContentResponse) bool {
	candidate := firstCandidate(resp)
	return candidate != nil &&
		candidate.GroundingMetadata != nil &&
		len(candidate.GroundingMetadata.GroundingChunks) > 0
}

// =================== OFFLINE ===================

var ErrAdvisorOffline = errors.New("AI advisory service is not configured")

// OfflineAdvisoryService answers every request with the fallback values.
// It stands in when no Gemini key is configured.
type OfflineAdvisoryService struct{}

func NewOfflineAdvisoryService() *OfflineAdvisoryService {
	return &OfflineAdvisoryService{}
}

func (OfflineAdvisoryService) GenerateScript(_ context.Context, profile models.UserProfile, _ models.Coordinates, _ string) string {
	return fallbackScript(profile)
}

func (OfflineAdvisoryService) FindNearestFacility(context.Context, models.Coordinates) models.HospitalInfo {
	return FallbackFacility
}

func (OfflineAdvisoryService) SynthesizeCalmingAudio(context.Context, string) ([]byte, error) {
	return nil, ErrAdvisorOffline
}
