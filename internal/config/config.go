package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	// ChatURL is the base URL of the reasoning service the engine calls.
	ChatURL string
	// BaseURL is the public URL of this server, used in phone callbacks.
	BaseURL   string
	LogLevel  string
	LogFormat string

	SilenceTimeout  time.Duration
	DispatchTimeout time.Duration
	Greeting        string
	GreetingDelay   time.Duration
	LedgerCapacity  int
	ForwardHistory  bool
	VoicePersona    []string
	VoiceProvider   string

	Recognizer  string
	Synthesizer string
	LLMProvider string

	AssemblyAIKey   string
	CerebrasKey     string
	CerebrasModelID string
	OpenAIKey       string
	OpenAIModel     string
	DeepgramKey     string
	DeepgramModel   string
	ElevenLabsKey   string
	ElevenLabsVoice string

	// KnowledgeFile, when set, grounds local replies on its content.
	KnowledgeFile  string
	EmbeddingModel string

	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string

	TwilioAuthToken string
	// AuthPassword, when set, is required to open /session and call /chat.
	AuthPassword string

	// EnvFileErr records why .env could not be read, if it could not.
	EnvFileErr error
}

const defaultGreeting = "Hi! I'm Dave, your virtual customer support assistant. How can I help you with your Aven account today?"

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	envErr := godotenv.Load()

	addr := getEnv("HTTP_ADDRESS", ":8080")
	return Config{
		HTTPAddress: addr,
		ChatURL:     getEnv("CHAT_URL", "http://localhost"+portOf(addr)),
		BaseURL:     strings.TrimRight(os.Getenv("BASE_URL"), "/"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "console"),

		SilenceTimeout:  getMillis("SILENCE_TIMEOUT_MS", 2000),
		DispatchTimeout: getMillis("DISPATCH_TIMEOUT_MS", 20000),
		Greeting:        getEnv("GREETING", defaultGreeting),
		GreetingDelay:   getMillis("GREETING_DELAY_MS", 500),
		LedgerCapacity:  getInt("LEDGER_CAPACITY", 500),
		ForwardHistory:  getBool("FORWARD_HISTORY", false),
		VoicePersona:    getList("VOICE_PERSONA", []string{"male", "david", "mark", "daniel"}),
		VoiceProvider:   getEnv("VOICE_PROVIDER", "Google"),

		Recognizer:  strings.ToLower(getEnv("RECOGNIZER", "browser")),
		Synthesizer: strings.ToLower(getEnv("SYNTHESIZER", "browser")),
		LLMProvider: strings.ToLower(getEnv("LLM_PROVIDER", "cerebras")),

		AssemblyAIKey:   os.Getenv("ASSEMBLYAI_API_KEY"),
		CerebrasKey:     os.Getenv("CEREBRAS_API_KEY"),
		CerebrasModelID: getEnv("CEREBRAS_MODEL_ID", "gpt-oss-120b"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		DeepgramKey:     os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:   getEnv("DEEPGRAM_MODEL", "aura-2-thalia-en"),
		ElevenLabsKey:   os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoice: os.Getenv("ELEVENLABS_VOICE_ID"),

		KnowledgeFile:  os.Getenv("KNOWLEDGE_FILE"),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),

		SupabaseURL:    os.Getenv("SUPABASE_URL"),
		SupabaseKey:    os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket: getEnv("SUPABASE_BUCKET", "chats"),

		TwilioAuthToken: os.Getenv("TWILIO_AUTH_TOKEN"),
		AuthPassword:    os.Getenv("AUTH_PASSWORD"),

		EnvFileErr: envErr,
	}
}

// Warnings lists configuration problems that degrade but do not prevent
// startup.
func (c Config) Warnings() []string {
	var w []string
	if c.EnvFileErr != nil {
		w = append(w, "Error loading .env file")
	}
	switch c.LLMProvider {
	case "openai":
		if c.OpenAIKey == "" {
			w = append(w, "OPENAI_API_KEY not set - LLM will not work")
		}
	default:
		if c.CerebrasKey == "" {
			w = append(w, "CEREBRAS_API_KEY not set - LLM will not work")
		}
	}
	if c.Recognizer == "assemblyai" && c.AssemblyAIKey == "" {
		w = append(w, "ASSEMBLYAI_API_KEY not set - transcription will not work")
	}
	if c.Synthesizer == "deepgram" && c.DeepgramKey == "" {
		w = append(w, "DEEPGRAM_API_KEY not set - TTS will not work")
	}
	if c.Synthesizer == "elevenlabs" && (c.ElevenLabsKey == "" || c.ElevenLabsVoice == "") {
		w = append(w, "ELEVENLABS_API_KEY or ELEVENLABS_VOICE_ID not set - TTS will not work")
	}
	if c.KnowledgeFile != "" && c.OpenAIKey == "" {
		w = append(w, "OPENAI_API_KEY not set - knowledge retrieval will not work")
	}
	if c.SupabaseURL != "" && c.SupabaseKey == "" {
		w = append(w, "SUPABASE_SERVICE_ROLE_KEY not set - conversations will not be archived")
	}
	return w
}

// ArchiveEnabled reports whether conversation transcripts should be uploaded.
func (c Config) ArchiveEnabled() bool {
	return c.SupabaseURL != "" && c.SupabaseKey != ""
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return n
}

func getMillis(key string, def int) time.Duration {
	return time.Duration(getInt(key, def)) * time.Millisecond
}

func getBool(key string, def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return b
}

func getList(key string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func portOf(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[i:]
	}
	return ":" + addr
}
