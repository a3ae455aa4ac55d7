package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/equa-app/truthkeeper/internal/models"
)

// ExportTranscript appends a human-readable record of a conflict session to
// the given text file, creating the file and its directory as needed.
func ExportTranscript(s *models.ConflictSession, filename string) error {
	if s == nil {
		return ErrNoActiveSession
	}

	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("TruthKeeper Session %s\n", s.ID))
	sb.WriteString(fmt.Sprintf("Started: %s\n", s.StartTime.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("Partners: %s & %s\n", s.Partners[0].Name, s.Partners[1].Name))
	sb.WriteString(strings.Repeat("=", 50) + "\n\n")

	if len(s.TruthStatements) > 0 {
		sb.WriteString("Truth statements:\n")
		for _, st := range s.TruthStatements {
			mark := " "
			if st.Verified {
				mark = "*"
			}
			sb.WriteString(fmt.Sprintf("%s %s [%s]: \"%s\"\n", mark, partnerName(s, st.PartnerID), st.Timestamp.Format(time.Kitchen), st.Text))
			if st.Commentary != "" {
				sb.WriteString(fmt.Sprintf("    > %s\n", st.Commentary))
			}
		}
		sb.WriteString("\n")
	}

	if len(s.QualiaEvents) > 0 {
		sb.WriteString("Qualia mapping:\n")
		for _, q := range s.QualiaEvents {
			sb.WriteString(fmt.Sprintf("- %s: valence %+d, arousal %d, %s, \"%s\"\n",
				partnerName(s, q.PartnerID), q.Valence, q.Arousal, q.BodyZone, q.Metaphor))
		}
		sb.WriteString("\n")
	}

	if len(s.Agreements) > 0 {
		sb.WriteString("Agreements:\n")
		for _, a := range s.Agreements {
			signers := make([]string, 0, len(a.SignedBy))
			for _, id := range a.SignedBy {
				signers = append(signers, partnerName(s, id))
			}
			sb.WriteString(fmt.Sprintf("- \"%s\" (signed by %s)\n", a.Text, strings.Join(signers, ", ")))
		}
		sb.WriteString("\n")
	}

	if _, err := file.WriteString(sb.String()); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return nil
}

func partnerName(s *models.ConflictSession, partnerID string) string {
	for _, p := range s.Partners {
		if p.ID == partnerID {
			return p.Name
		}
	}
	return partnerID
}
