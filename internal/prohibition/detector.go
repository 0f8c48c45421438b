package prohibition

import (
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
)

// Severity classifies how firmly a page prohibits sales contact.
type Severity string

const (
	SeverityStrict   Severity = "strict"
	SeverityModerate Severity = "moderate"
	SeverityMild     Severity = "mild"
	SeverityWeak     Severity = "weak"
)

// Match is one prohibition-pattern hit.
type Match struct {
	Text       string  `json:"text"`
	Category   string  `json:"category"` // direct, indirect, conditional
	Confidence float64 `json:"confidence"`
	Element    string  `json:"element"`
}

// Detection is the detector output.
type Detection struct {
	Detected bool     `json:"detected"`
	Severity Severity `json:"severity"`
	Matches  []Match  `json:"matches"`
	Score    float64  `json:"score"`
}

type patternDef struct {
	re     *regexp.Regexp
	weight float64
}

// Ordered pattern lists. Direct patterns state a prohibition outright;
// indirect ones imply it; conditional ones prohibit under circumstances.
var directPatterns = []patternDef{
	{regexp.MustCompile(`営業(?:目的|活動|の)?(?:電話|メール|連絡|行為)?.{0,12}(?:お断り|御断り|ご遠慮|禁止|固く)`), 1.0},
	{regexp.MustCompile(`(?:セールス|勧誘|売り込み).{0,12}(?:お断り|ご遠慮|禁止)`), 1.0},
	{regexp.MustCompile(`営業電話は?お断り`), 1.0},
	{regexp.MustCompile(`営業メールは?(?:お断り|ご遠慮)`), 1.0},
	{regexp.MustCompile(`(?i)no\s+(?:solicitation|sales\s+(?:calls|emails))`), 0.9},
}

var indirectPatterns = []patternDef{
	{regexp.MustCompile(`営業.{0,20}(?:返信|回答|対応)(?:は|を)?(?:いた)?しま?せん`), 0.7},
	{regexp.MustCompile(`(?:商品|サービス)の(?:ご案内|売り込み|ご提案).{0,12}(?:ご遠慮|お控え)`), 0.7},
	{regexp.MustCompile(`営業目的の(?:お問い合わせ|ご連絡)`), 0.6},
}

var conditionalPatterns = []patternDef{
	{regexp.MustCompile(`営業の(?:場合|方)は.{0,20}(?:ご遠慮|お断り|こちら)`), 0.5},
	{regexp.MustCompile(`取引のない(?:企業|業者)様?からの`), 0.4},
}

var attentionWords = []string{"注意", "お断り", "ご遠慮", "禁止", "固く", "一切"}

var textTags = []string{
	"body", "main", "div", "p", "span", "section", "article",
	"form", "fieldset", "legend", "label", "small", "em", "strong",
}

const (
	maxElementsPerTag = 50
	maxTextLength     = 500
	minMatchLength    = 5
)

var elementWeights = map[string]float64{
	"form": 1.2, "fieldset": 1.2, "legend": 1.2, "label": 1.1,
	"small": 1.0, "em": 1.1, "strong": 1.2, "p": 1.0, "span": 0.9,
	"div": 0.8, "section": 0.9, "article": 0.9, "main": 0.9, "body": 0.7,
}

// Detector finds sales-prohibition statements in page HTML.
type Detector struct {
	logger arbor.ILogger
}

// NewDetector creates a prohibition detector.
func NewDetector(logger arbor.ILogger) *Detector {
	return &Detector{logger: logger}
}

// Detect parses html and scores prohibition-pattern hits. Parse failures
// yield a non-detection; the detector never errors.
func (d *Detector) Detect(html string) *Detection {
	det := &Detection{Severity: SeverityWeak}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return det
	}

	seen := make(map[string]bool)
	for _, tag := range textTags {
		count := 0
		doc.Find(tag).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if count >= maxElementsPerTag {
				return false
			}
			count++
			text := normalizeText(s.Text())
			if len([]rune(text)) < minMatchLength {
				return true
			}
			if len([]rune(text)) > maxTextLength {
				text = string([]rune(text)[:maxTextLength])
			}
			d.scanText(det, seen, tag, text)
			return true
		})
	}

	det.Detected = len(det.Matches) > 0
	det.Severity = classifySeverity(det.Matches)
	sort.SliceStable(det.Matches, func(i, j int) bool {
		return det.Matches[i].Confidence > det.Matches[j].Confidence
	})
	return det
}

func (d *Detector) scanText(det *Detection, seen map[string]bool, tag, text string) {
	scan := func(category string, patterns []patternDef, categoryWeight float64) {
		for _, p := range patterns {
			m := p.re.FindString(text)
			if m == "" || len([]rune(m)) < minMatchLength {
				continue
			}
			key := normalizeText(m)
			if seen[key] {
				continue
			}
			seen[key] = true

			conf := categoryWeight * p.weight * elementWeights[tag]
			// Co-occurring attention words raise confidence slightly.
			for _, w := range attentionWords {
				if strings.Contains(text, w) {
					conf += 0.05
				}
			}
			if conf > 1.0 {
				conf = 1.0
			}
			det.Matches = append(det.Matches, Match{
				Text: clipRunes(m, 200), Category: category, Confidence: conf, Element: tag,
			})
			det.Score += conf
		}
	}
	scan("direct", directPatterns, 1.0)
	scan("indirect", indirectPatterns, 0.8)
	scan("conditional", conditionalPatterns, 0.6)
}

func classifySeverity(matches []Match) Severity {
	direct := 0
	maxConf := 0.0
	for _, m := range matches {
		if m.Category == "direct" {
			direct++
		}
		if m.Confidence > maxConf {
			maxConf = m.Confidence
		}
	}
	switch {
	case direct >= 2 || maxConf >= 0.9:
		return SeverityStrict
	case direct >= 1 || maxConf >= 0.8:
		return SeverityModerate
	case len(matches) >= 2 || maxConf >= 0.7:
		return SeverityMild
	default:
		return SeverityWeak
	}
}

var spacePattern = regexp.MustCompile(`\s+`)

func normalizeText(s string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

func clipRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
