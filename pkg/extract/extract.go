package extract

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ServiceOBGYN marks the discharge notes of the OB/GYN service.
const ServiceOBGYN = "Service: OBSTETRICS/GYNECOLOGY"

// Problem kinds.
const (
	KindMissingSex       = "missing_sex"
	KindMalformedSection = "malformed_section"
)

// Section names a note section by its start header and the pattern of the
// headers that may follow it.
type Section struct {
	Name  string
	Start string
	End   string
}

// Sections lists the extracted sections in output order.
var Sections = []Section{
	{"complaint", "Chief Complaint", `(?:Major Surgical or Invasive Procedure|Major ___ or Invasive Procedure|___ or Invasive Procedure|History of Present Illness)`},
	{"hxpi", "History of Present Illness", `(?:Past Medical History|Social History|Physical Exam|Pertinent Results|___ Medical History)`},
	{"past_history", "Past Medical History", `(?:Social History|Physical Exam|___ Exam|Pertinent Results|Brief Hospital Course)`},
	{"procedure", "Major Surgical or Invasive Procedure", `(?:History of Present Illness|Physical Exam|Pertinent Results|Brief Hospital Course)`},
	{"diagnosis", "Discharge Diagnosis", `(?:Discharge Condition|___ Condition)`},
}

var (
	sexPattern   = regexp.MustCompile(`Sex:   (F|M|___)`)
	transPattern = regexp.MustCompile(`(?i)transgender|transsexual|Sex:   ___|Sex:   M|nonbinary|non-binary|trans man|ftm|gender dysphoria`)

	sectionPatterns = compileSections(Sections)
)

func compileSections(list []Section) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(list))
	for i, s := range list {
		out[i] = regexp.MustCompile(`(?ms)` + regexp.QuoteMeta(s.Start) + `:\n(.*?)` + s.End)
	}
	return out
}

// Record is one raw discharge note.
type Record struct {
	NoteID    string `json:"note_id" yaml:"note_id"`
	SubjectID string `json:"subject_id" yaml:"subject_id"`
	HadmID    string `json:"hadm_id" yaml:"hadm_id"`
	Text      string `json:"-" yaml:"-"`
}

// Note is an extracted OB/GYN note. Sections holds the trimmed text of each
// section by name; a section whose header is absent is missing from the map.
type Note struct {
	NoteID       string            `json:"note_id" yaml:"note_id"`
	SubjectID    string            `json:"subject_id" yaml:"subject_id"`
	HadmID       string            `json:"hadm_id" yaml:"hadm_id"`
	Service      string            `json:"service" yaml:"service"`
	ListedSex    string            `json:"listed_sex" yaml:"listed_sex"`
	Sections     map[string]string `json:"sections" yaml:"sections"`
	TransMention bool              `json:"trans_mention" yaml:"trans_mention"`
}

// Problem records why a note was skipped.
type Problem struct {
	NoteID  string `json:"note_id" yaml:"note_id"`
	Kind    string `json:"kind" yaml:"kind"`
	Section string `json:"section,omitempty" yaml:"section,omitempty"`
}

func (p *Problem) Error() string {
	if p.Section != "" {
		return fmt.Sprintf("note %s: %s: %s", p.NoteID, p.Kind, p.Section)
	}
	return fmt.Sprintf("note %s: %s", p.NoteID, p.Kind)
}

// Report summarises an extraction run.
type Report struct {
	Total         int       `json:"total" yaml:"total"`
	Service       int       `json:"service" yaml:"service"`
	Extracted     int       `json:"extracted" yaml:"extracted"`
	TransMentions int       `json:"trans_mentions" yaml:"trans_mentions"`
	Problems      []Problem `json:"problems" yaml:"problems"`
}

// contextSections make up the context note, in order.
var contextSections = []string{"complaint", "hxpi", "past_history"}

// Context combines the listed sex, the service and the complaint, present
// illness and past history sections into the note text that is rewritten.
// Absent sections are left out.
func (n *Note) Context() string {
	parts := []string{n.ListedSex, n.Service}
	for _, name := range contextSections {
		text, ok := n.Sections[name]
		if !ok {
			continue
		}
		parts = append(parts, sectionStart(name)+":\n"+text)
	}
	return strings.Join(parts, "\n\n")
}

func sectionStart(name string) string {
	for _, s := range Sections {
		if s.Name == name {
			return s.Start
		}
	}
	return name
}

// ParseNote extracts the listed sex, sections and trans mention flag from
// a record. A missing sex line, or a section whose header is present but
// whose body cannot be delimited, returns a *Problem.
func ParseNote(rec Record) (*Note, error) {
	n := &Note{
		NoteID:    rec.NoteID,
		SubjectID: rec.SubjectID,
		HadmID:    rec.HadmID,
		Service:   ServiceOBGYN,
		Sections:  make(map[string]string, len(Sections)),
	}

	m := sexPattern.FindString(rec.Text)
	if m == "" {
		return nil, &Problem{NoteID: rec.NoteID, Kind: KindMissingSex}
	}
	n.ListedSex = m

	for i, s := range Sections {
		sm := sectionPatterns[i].FindStringSubmatch(rec.Text)
		if sm == nil {
			if strings.Contains(rec.Text, s.Start) {
				return nil, &Problem{NoteID: rec.NoteID, Kind: KindMalformedSection, Section: s.Name}
			}
			continue
		}
		n.Sections[s.Name] = strings.TrimSpace(sm[1])
	}

	n.TransMention = transPattern.MatchString(rec.Text)
	return n, nil
}

// Parse extracts every record concurrently. Notes keep the input order;
// records that fail validation are reported and skipped.
func Parse(ctx context.Context, records []Record, workers int) ([]*Note, []Problem, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	notes := make([]*Note, len(records))
	errs := make([]error, len(records))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range records {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			notes[i], errs[i] = ParseNote(records[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	out := make([]*Note, 0, len(records))
	problems := make([]Problem, 0)
	for i, n := range notes {
		if errs[i] != nil {
			var p *Problem
			if errors.As(errs[i], &p) {
				problems = append(problems, *p)
			}
			continue
		}
		out = append(out, n)
	}
	return out, problems, nil
}
