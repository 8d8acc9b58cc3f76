package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "ErrNotFound")
	if got != "Resource not found" {
		t.Errorf("T(ErrNotFound) = %q, want 'Resource not found'", got)
	}
}

func TestTranslatePortuguese(t *testing.T) {
	ctx := initLang(t, "pt")

	got := T(ctx, "ErrNoContract")
	if got != "Nenhum contrato de analytics configurado" {
		t.Errorf("T(ErrNoContract) = %q", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got1 := Tp(ctx, "StudentsRecomputed", 1)
	if got1 != "Recomputed metrics for 1 student." {
		t.Errorf("Tp(StudentsRecomputed, 1) = %q", got1)
	}

	got5 := Tp(ctx, "StudentsRecomputed", 5)
	if got5 != "Recomputed metrics for 5 students." {
		t.Errorf("Tp(StudentsRecomputed, 5) = %q", got5)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "ErrInvalidForceRecalculate", map[string]any{"Value": "maybe"})
	if got != "Invalid value for force_recalculate: maybe" {
		t.Errorf("Td(ErrInvalidForceRecalculate) = %q", got)
	}
}

func TestMissingTranslationReturnsID(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NoSuchMessage"); got != "NoSuchMessage" {
		t.Errorf("T(NoSuchMessage) = %q, want the id back", got)
	}
}

func TestContextWithoutLocalizerUsesDefault(t *testing.T) {
	initLang(t, "pt")

	if got := T(context.Background(), "ErrInternal"); got != "Erro interno do servidor" {
		t.Errorf("T(ErrInternal) = %q, want the pt default", got)
	}
}

func TestLocaleFilesHaveSameKeys(t *testing.T) {
	initLang(t, "en")
	ids := []string{
		"ErrNotFound", "ErrNoContract", "ErrUpstreamUnavailable", "ErrInvalidInput", "ErrInternal",
		"MetricAnswerRationale", "MetricTotalAttempts", "MetricTotalTimeSeconds",
		"MetricAverageTimePerAttempt", "MetricNumberOfCorrectAnswers", "MetricFinalScore",
		"MetricActivitySuccess",
	}
	for _, lang := range []string{"en", "pt"} {
		ctx := WithLocalizer(context.Background(), NewLocalizer(lang))
		for _, id := range ids {
			if got := T(ctx, id); got == id {
				t.Errorf("%s: missing translation for %s", lang, id)
			}
		}
	}
}

func TestMiddlewareNegotiatesLanguage(t *testing.T) {
	initLang(t, "en")

	var got string
	h := Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "ErrNotFound")
	}))

	tests := []struct {
		accept   string
		want     string
		wantLang string
	}{
		{"", "Resource not found", "en"},
		{"pt-BR,pt;q=0.9,en;q=0.8", "Recurso não encontrado", "pt"},
		{"fr-FR,en;q=0.5", "Resource not found", "en"},
		{"de", "Resource not found", "en"},
	}

	for _, tt := range tests {
		t.Run(tt.accept, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if got != tt.want {
				t.Errorf("message = %q, want %q", got, tt.want)
			}
			if cl := rec.Header().Get("Content-Language"); cl != tt.wantLang {
				t.Errorf("Content-Language = %q, want %q", cl, tt.wantLang)
			}
		})
	}
}
