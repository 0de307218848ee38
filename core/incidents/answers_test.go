package incidents

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serima/core/store"
)

func TestAnswerRecordsEncoding(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	recs := AnswerRecords(map[int64]AnswerValue{
		5: MultiChoice{PredefinedIDs: []int64{10, 11}},
		1: FreeText{Text: "outage"},
		2: DateAnswer{At: &at},
		3: DateAnswer{},
		4: ChoiceList{Kind: store.QuestionCountries, Values: []string{"LU", "FR"}},
		6: MultiChoice{PredefinedIDs: []int64{12}, Annex: "other cause"},
	})
	require.Len(t, recs, 6)
	assert.Equal(t, "outage", *recs[0].Answer)
	assert.Equal(t, "2024-05-06 07:08:09", *recs[1].Answer)
	assert.Nil(t, recs[2].Answer)
	assert.Equal(t, "LU,FR,", *recs[3].Answer)
	assert.Nil(t, recs[4].Answer)
	assert.Equal(t, []int64{10, 11}, recs[4].PredefinedIDs)
	assert.Equal(t, "other cause", *recs[5].Answer)
}

func TestParseAnswerByQuestionType(t *testing.T) {
	now := time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)
	multi := store.Question{ID: 7, QuestionType: store.QuestionMulti, IsMandatory: true,
		Predefined: []store.PredefinedAnswer{{ID: 70}, {ID: 71}}}

	v, msg := ParseAnswer(multi, []string{"70", "71"}, " note ", now)
	require.Empty(t, msg)
	assert.Equal(t, MultiChoice{PredefinedIDs: []int64{70, 71}, Annex: "note"}, v)

	_, msg = ParseAnswer(multi, []string{"99"}, "", now)
	assert.NotEmpty(t, msg)
	_, msg = ParseAnswer(multi, nil, "", now)
	assert.Equal(t, "This field is required.", msg)

	single := multi
	single.QuestionType = store.QuestionSingle
	_, msg = ParseAnswer(single, []string{"70", "71"}, "", now)
	assert.Equal(t, "Select only one choice.", msg)

	date := store.Question{QuestionType: store.QuestionDate}
	v, msg = ParseAnswer(date, []string{"2024-05-06 23:00:00"}, "", now)
	require.Empty(t, msg)
	assert.Equal(t, 23, v.(DateAnswer).At.Hour())
	_, msg = ParseAnswer(date, []string{"2024-05-07 00:00:01"}, "", now)
	assert.NotEmpty(t, msg, "tomorrow is rejected")
	v, msg = ParseAnswer(date, nil, "", now)
	require.Empty(t, msg)
	assert.Nil(t, v.(DateAnswer).At)

	countries := store.Question{QuestionType: store.QuestionCountries}
	v, msg = ParseAnswer(countries, []string{"lu", "DE"}, "", now)
	require.Empty(t, msg)
	assert.Equal(t, []string{"LU", "DE"}, v.(ChoiceList).Values)
	_, msg = ParseAnswer(countries, []string{"EU"}, "", now)
	assert.NotEmpty(t, msg)

	regions := store.Question{QuestionType: store.QuestionRegions}
	_, msg = ParseAnswer(regions, []string{"EU", "MARS"}, "", now)
	assert.NotEmpty(t, msg)

	text := store.Question{QuestionType: store.QuestionFreeText, IsMandatory: true}
	_, msg = ParseAnswer(text, []string{"  "}, "", now)
	assert.NotEmpty(t, msg)
}

func TestInitialValuesRoundTripChoiceList(t *testing.T) {
	q := store.Question{QuestionType: store.QuestionCountries}
	stored := "LU,FR,"
	values, annex := InitialValues(q, &store.Answer{Answer: &stored})
	assert.Equal(t, []string{"LU", "FR"}, values)
	assert.Empty(t, annex)

	m := store.Question{QuestionType: store.QuestionMulti}
	note := "why"
	values, annex = InitialValues(m, &store.Answer{Answer: &note, PredefinedIDs: []int64{3, 4}})
	assert.Equal(t, []string{"3", "4"}, values)
	assert.Equal(t, "why", annex)
}
