package dialogue

import (
	"fmt"

	"helpbot/internal/domain"
)

const (
	msgOrientation = "Bu asistan yalnızca Ticaret Sicili Gazetesi ilanlarını aramanıza yardımcı olur; genel sohbet yapmaz.\n" +
		"Adım 1: Tarih aralığını yazın."
	msgDateExamples = `Örnekler: "son 30 gün", "geçen ay", "Mayıs 2025", "2025-05-01 2025-05-31".`
	msgDateRetry    = "Tarih aralığı anlaşılamadı. " + msgDateExamples
	msgAskCompany   = "Adım 2: Şirket unvanını yazın."
	msgAskCompanyOp = `Adım 2: Şirket unvanını yazın (şirket filtresi istemiyorsanız "geç" yazın).`
	msgSkipRefused  = "Bu aramada şirket zorunludur. Lütfen bir şirket unvanı yazın."
	msgAskCategory  = `İlan türünü yazın (örn. "kuruluş", "sermaye artırımı"); atlamak için "geç" yazın.`
	msgAskCity      = "Son adım: Ticaret sicili müdürlüğünü (şehir) yazın."
	msgPick         = "Birden fazla eşleşme bulundu. Lütfen birini seçin:"
	msgPickReminder = "Lütfen gösterilen seçeneklerden birini seçin."
	msgNothingToPck = "Şu anda seçilecek bir seçenek yok."
	msgPolicy       = "Yalnızca ilan aramasıyla ilgili bilgileri alabilirim. Lütfen istenen bilgiyi yazın."
	msgFinished     = `Arama tamamlandı. Yeni bir arama için "sıfırla" yazın.`
	msgReset        = "Oturum sıfırlandı. Yeni bir arama için herhangi bir mesaj yazın."
	msgUnreachable  = "Sunucuya şu anda ulaşılamıyor. Lütfen biraz sonra tekrar deneyin."
	msgMalformed    = "%s uç noktasından geçersiz yanıt alındı. Lütfen tekrar deneyin."
	msgBackendError = "İstek tamamlanamadı. Lütfen tekrar deneyin."
)

// WelcomeHint is shown when a conversation opens, before any input.
const WelcomeHint = "Merhaba! Başlamak için herhangi bir mesaj yazın."

func msgUnresolved(slot domain.PickSlot) string {
	switch slot {
	case domain.PickCompany:
		return "Şirket bulunamadı. Unvanı farklı yazmayı deneyin."
	case domain.PickCategory:
		return "İlan türü bulunamadı. Farklı bir ifade deneyin."
	default:
		return "Müdürlük bulunamadı. Şehir adını kontrol edip tekrar yazın."
	}
}

func msgFilled(slot domain.PickSlot, label string) string {
	switch slot {
	case domain.PickCompany:
		return fmt.Sprintf("Şirket: %s", label)
	case domain.PickCategory:
		return fmt.Sprintf("İlan türü: %s", label)
	default:
		return fmt.Sprintf("Müdürlük: %s", label)
	}
}

func msgResults(n int) string {
	if n == 0 {
		return "Kriterlere uyan ilan bulunamadı."
	}
	return fmt.Sprintf("%d ilan bulundu.", n)
}
