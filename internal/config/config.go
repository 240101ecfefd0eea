package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	// External engines
	AssemblyAIKey     string
	TTSEngine         string // "elevenlabs" or "deepgram"
	ElevenLabsKey     string
	ElevenLabsVoiceID string
	DeepgramKey       string
	DeepgramModel     string

	// Collaborator services
	ScorerEndpoint  string
	ScorerKey       string
	MatcherEndpoint string
	ArchiveDSN      string // empty disables the postgres archive

	// Interview options
	InterviewDeadline time.Duration
	ItemMin           time.Duration
	ItemTarget        time.Duration
	ItemMax           time.Duration
	ItemWeight        float64
	CoverageThreshold float64
	MaxFollowUps      int
	MinFollowUpCost   time.Duration
	SynthTimeout      time.Duration
	ScoreTimeout      time.Duration
	SilenceWindow     time.Duration
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Error loading .env file")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	assemblyAIKey := os.Getenv("ASSEMBLYAI_API_KEY")
	if assemblyAIKey == "" {
		log.Println("Warning: ASSEMBLYAI_API_KEY not set - transcription will not work")
	}

	ttsEngine := os.Getenv("TTS_ENGINE")
	if ttsEngine == "" {
		ttsEngine = "elevenlabs"
	}
	elevenKey := os.Getenv("ELEVENLABS_API_KEY")
	voiceID := os.Getenv("ELEVENLABS_VOICE_ID")
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	deepgramModel := os.Getenv("DEEPGRAM_TTS_MODEL")
	if ttsEngine == "elevenlabs" && (elevenKey == "" || voiceID == "") {
		log.Println("Warning: ELEVENLABS_API_KEY or ELEVENLABS_VOICE_ID not set - synthesis will not work")
	}
	if ttsEngine == "deepgram" && deepgramKey == "" {
		log.Println("Warning: DEEPGRAM_API_KEY not set - synthesis will not work")
	}

	scorerEndpoint := os.Getenv("SCORER_ENDPOINT")
	if scorerEndpoint == "" {
		log.Println("Warning: SCORER_ENDPOINT not set - falling back to keyword scoring")
	}
	matcherEndpoint := os.Getenv("MATCHER_ENDPOINT")
	if matcherEndpoint == "" {
		log.Println("Warning: MATCHER_ENDPOINT not set - sessions must supply a plan inline")
	}
	archiveDSN := os.Getenv("ARCHIVE_DATABASE_URL")
	if archiveDSN == "" {
		log.Println("Warning: ARCHIVE_DATABASE_URL not set - exchanges will only be logged")
	}

	cfg := Config{
		HTTPAddress:       addr,
		AssemblyAIKey:     assemblyAIKey,
		TTSEngine:         ttsEngine,
		ElevenLabsKey:     elevenKey,
		ElevenLabsVoiceID: voiceID,
		DeepgramKey:       deepgramKey,
		DeepgramModel:     deepgramModel,
		ScorerEndpoint:    scorerEndpoint,
		ScorerKey:         os.Getenv("SCORER_API_KEY"),
		MatcherEndpoint:   matcherEndpoint,
		ArchiveDSN:        archiveDSN,
		InterviewDeadline: durationEnv("INTERVIEW_DEADLINE", 30*time.Minute),
		ItemMin:           durationEnv("ITEM_MIN_TIME", time.Minute),
		ItemTarget:        durationEnv("ITEM_TARGET_TIME", 4*time.Minute),
		ItemMax:           durationEnv("ITEM_MAX_TIME", 8*time.Minute),
		ItemWeight:        floatEnv("ITEM_WEIGHT", 1.0),
		CoverageThreshold: floatEnv("COVERAGE_THRESHOLD", 0.6),
		MaxFollowUps:      intEnv("MAX_FOLLOWUPS_PER_ITEM", 1),
		MinFollowUpCost:   durationEnv("MIN_FOLLOWUP_COST", 45*time.Second),
		SynthTimeout:      durationEnv("SYNTH_TIMEOUT", 20*time.Second),
		ScoreTimeout:      durationEnv("SCORE_TIMEOUT", 8*time.Second),
		SilenceWindow:     durationEnv("SILENCE_WINDOW", 900*time.Millisecond),
	}

	log.Printf("config: HTTP_ADDRESS=%s TTS_ENGINE=%s INTERVIEW_DEADLINE=%v", cfg.HTTPAddress, cfg.TTSEngine, cfg.InterviewDeadline)
	return cfg
}

func durationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("Warning: %s=%q is not a duration, using %v", key, v, def)
		return def
	}
	return d
}

func floatEnv(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("Warning: %s=%q is not a number, using %v", key, v, def)
		return def
	}
	return f
}

func intEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: %s=%q is not an integer, using %d", key, v, def)
		return def
	}
	return n
}
