package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/chadiek/voiceturn/internal/archive"
	"github.com/chadiek/voiceturn/internal/bridge"
	"github.com/chadiek/voiceturn/internal/config"
	"github.com/chadiek/voiceturn/internal/dispatch"
	"github.com/chadiek/voiceturn/internal/engine"
	"github.com/chadiek/voiceturn/internal/knowledge"
	"github.com/chadiek/voiceturn/internal/llm"
	"github.com/chadiek/voiceturn/internal/logging"
	"github.com/chadiek/voiceturn/internal/phone"
	"github.com/chadiek/voiceturn/internal/playback"
	"github.com/chadiek/voiceturn/internal/transcript"
	"github.com/chadiek/voiceturn/internal/tts"
)

func engineOptions(c config.Config) engine.Options {
	prefs := playback.DefaultPreferences()
	if len(c.VoicePersona) > 0 {
		prefs.Persona = c.VoicePersona
	}
	if c.VoiceProvider != "" {
		prefs.Provider = c.VoiceProvider
	}
	return engine.Options{
		SilenceTimeout:  c.SilenceTimeout,
		DispatchTimeout: c.DispatchTimeout,
		ForwardHistory:  c.ForwardHistory,
		Greeting:        c.Greeting,
		GreetingDelay:   c.GreetingDelay,
		Voice:           prefs.Selector(),
	}
}

// chatReasoner calls the /chat service at CHAT_URL.
func chatReasoner(c config.Config) *dispatch.ChatClient {
	client := dispatch.NewChatClient(c.ChatURL)
	client.AuthToken = c.AuthPassword
	return client
}

// localReasoner answers in-process. Replies are grounded on the knowledge
// file when one is configured.
func localReasoner(ctx context.Context, c config.Config, log zerolog.Logger) (dispatch.Reasoner, error) {
	gen, err := llm.NewGenerator(c)
	if err != nil {
		return nil, err
	}
	r := llm.Reasoner{Gen: gen, Log: logging.Component(log, "llm")}
	if c.KnowledgeFile == "" {
		return r, nil
	}
	idx, err := newKnowledge(ctx, c, log)
	if err != nil {
		return nil, err
	}
	r.Knowledge = idx
	return r, nil
}

func newKnowledge(ctx context.Context, c config.Config, log zerolog.Logger) (*knowledge.Index, error) {
	chunks, err := knowledge.LoadFile(c.KnowledgeFile)
	if err != nil {
		return nil, err
	}
	emb, err := knowledge.NewOpenAIEmbedder(c.OpenAIKey, c.EmbeddingModel, "")
	if err != nil {
		return nil, fmt.Errorf("knowledge embedder: %w", err)
	}
	idx := knowledge.NewIndex(emb)
	if err := idx.Add(ctx, chunks); err != nil {
		return nil, fmt.Errorf("indexing %s: %w", c.KnowledgeFile, err)
	}
	log.Info().Str("file", c.KnowledgeFile).Int("chunks", idx.Len()).Msg("knowledge indexed")
	return idx, nil
}

func newArchiver(c config.Config, log zerolog.Logger) (archive.Archiver, error) {
	if !c.ArchiveEnabled() {
		return archive.Nop{}, nil
	}
	storage, err := archive.NewSupabaseStorage(archive.SupabaseConfig{
		URL:            c.SupabaseURL,
		ServiceRoleKey: c.SupabaseKey,
		Bucket:         c.SupabaseBucket,
	})
	if err != nil {
		return nil, err
	}
	return archive.NewStore(storage, logging.Component(log, "archive")), nil
}

func bridgeConfig(c config.Config, arch archive.Archiver) (bridge.Config, error) {
	bc := bridge.Config{
		Engine:         engineOptions(c),
		LedgerCapacity: c.LedgerCapacity,
		Archiver:       arch,
	}
	switch c.Recognizer {
	case "", "browser":
	case "assemblyai":
		key := c.AssemblyAIKey
		bc.Recognizer = func(log zerolog.Logger) bridge.ServerRecognizer {
			return transcript.NewAssemblyAIRecognizer(key, log)
		}
	default:
		return bc, fmt.Errorf("unknown recognizer %q", c.Recognizer)
	}
	switch c.Synthesizer {
	case "", "browser":
	case "deepgram":
		key, model := c.DeepgramKey, c.DeepgramModel
		bc.Synthesizer = func(sink tts.PCM48kSink, log zerolog.Logger) playback.Synthesizer {
			client := tts.NewDeepgramClient(key, model).WithLogger(log)
			return tts.NewSynthesizer(client, sink, client.Model(), log)
		}
	case "elevenlabs":
		key, voice := c.ElevenLabsKey, c.ElevenLabsVoice
		bc.Synthesizer = func(sink tts.PCM48kSink, log zerolog.Logger) playback.Synthesizer {
			client := tts.NewElevenLabsClient(key, voice).WithLogger(log)
			return tts.NewCatalogSynthesizer(client, sink, client.Voices(), log)
		}
	default:
		return bc, fmt.Errorf("unknown synthesizer %q", c.Synthesizer)
	}
	return bc, nil
}

func phoneConfig(c config.Config, arch archive.Archiver) phone.Config {
	return phone.Config{
		Greeting:       c.Greeting,
		LedgerCapacity: c.LedgerCapacity,
		Dispatch: dispatch.Options{
			Timeout:        c.DispatchTimeout,
			ForwardHistory: c.ForwardHistory,
		},
		Archiver: arch,
	}
}
