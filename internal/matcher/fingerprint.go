package matcher

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/kube-rca/alertsync/internal/model"
)

// Identity - alias fingerprint에 사용하는 식별 필드
type Identity struct {
	AlertName string `json:"alertname"`
	Cluster   string `json:"cluster"`
	Instance  string `json:"instance"`
	Severity  string `json:"severity"`
}

// Normalize - 앞뒤 공백 제거 + 소문자 변환
func (i Identity) Normalize() Identity {
	return Identity{
		AlertName: normalizeField(i.AlertName),
		Cluster:   normalizeField(i.Cluster),
		Instance:  normalizeField(i.Instance),
		Severity:  normalizeField(i.Severity),
	}
}

// Fingerprint - 정규화된 식별 필드의 SHA-256 (hex)
// 키 순서가 고정된 key=value 인코딩이라 입력 순서/대소문자와 무관
func Fingerprint(id Identity) string {
	n := id.Normalize()
	return hashPairs(
		"alertname", n.AlertName,
		"cluster", n.Cluster,
		"instance", n.Instance,
		"severity", n.Severity,
	)
}

// fingerprintWithoutSeverity - severity 정보가 없는 B 레코드 비교용
func fingerprintWithoutSeverity(id Identity) string {
	n := id.Normalize()
	return hashPairs(
		"alertname", n.AlertName,
		"cluster", n.Cluster,
		"instance", n.Instance,
	)
}

func hashPairs(kv ...string) string {
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		b.WriteString(kv[i])
		b.WriteByte('=')
		b.WriteString(kv[i+1])
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// RecordIdentity - 로컬 레코드(A)의 식별 필드
func RecordIdentity(r model.AlertRecord) Identity {
	return Identity{
		AlertName: r.AlertName,
		Cluster:   r.Cluster,
		Instance:  r.Instance,
		Severity:  r.Severity,
	}
}

// IncidentIdentity - B 레코드의 key:value 태그에서 식별 필드 추출
// severity는 태그만 사용 (priority는 모든 JSM alert에 기본값이 있어 식별에 쓰지 않음)
func IncidentIdentity(b model.IncidentAlert) Identity {
	return Identity{
		AlertName: b.TagValue("alertname"),
		Cluster:   b.TagValue("cluster"),
		Instance:  b.Instance(),
		Severity:  b.TagValue("severity"),
	}
}

func normalizeField(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
