package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyMapping(t *testing.T) {
	t.Run("should rewrite line prefixes and in-text mentions", func(t *testing.T) {
		// Arrange
		doc := "A: привет\nСпикер A сказал A"

		// Act
		out, collisions := ApplyMapping(doc, LabelMapping{"A": "Иван"})

		// Assert
		assert.Empty(t, collisions)
		assert.Equal(t, "Иван: привет\nСпикер Иван сказал Иван", out)
	})

	t.Run("should be a no-op when re-applied", func(t *testing.T) {
		mapping := LabelMapping{"A": "Иван", "SPEAKER_01": "Мария"}
		doc := "[00:00 - 00:05] A: привет\n[00:05 - 00:09] SPEAKER_01 - ответ для A\n"

		once, _ := ApplyMapping(doc, mapping)
		twice, _ := ApplyMapping(once, mapping)

		assert.Equal(t, once, twice)
		assert.Equal(t, "[00:00 - 00:05] Иван: привет\n[00:05 - 00:09] Мария: ответ для Иван\n", once)
	})

	t.Run("should never touch timestamps or header facts", func(t *testing.T) {
		doc := "Дата обработки: 2024-01-01 10:00:00\nДлительность: 1 мин\n[00:01 - 00:05] 01: hi 01\n"

		out, _ := ApplyMapping(doc, LabelMapping{"01": "Анна", "00": "Олег"})

		assert.Equal(t, "Дата обработки: 2024-01-01 10:00:00\nДлительность: 1 мин\n[00:01 - 00:05] Анна: hi Анна\n", out)
	})

	t.Run("should rewrite mentions on the language and participants lines", func(t *testing.T) {
		doc := "Язык: A\nУчастники: A, Мария\n[00:00 - 00:01] A: да\n"

		out, _ := ApplyMapping(doc, LabelMapping{"A": "Иван"})

		assert.Equal(t, "Язык: Иван\nУчастники: Иван, Мария\n[00:00 - 00:01] Иван: да\n", out)
	})

	t.Run("should only replace whole tokens", func(t *testing.T) {
		doc := "[00:00 - 00:01] B: ABBA B_2 B\n"

		out, _ := ApplyMapping(doc, LabelMapping{"B": "Борис"})

		assert.Equal(t, "[00:00 - 00:01] Борис: ABBA B_2 Борис\n", out)
	})

	t.Run("should return the document unchanged for an empty mapping", func(t *testing.T) {
		doc := "[00:00 - 00:01] A: x\n"

		out, collisions := ApplyMapping(doc, nil)

		assert.Equal(t, doc, out)
		assert.Nil(t, collisions)
	})

	t.Run("should skip and report names that contain another label", func(t *testing.T) {
		// Arrange
		doc := "[00:00 - 00:01] A: x\n[00:01 - 00:02] B: y\n"
		mapping := LabelMapping{"A": "Анна B", "B": "Борис"}

		// Act
		out, collisions := ApplyMapping(doc, mapping)

		// Assert
		require.Len(t, collisions, 1)
		assert.Equal(t, MappingCollision{Label: "A", Name: "Анна B", Conflicting: "B"}, collisions[0])
		assert.Contains(t, collisions[0].Error(), "skipped")
		assert.Equal(t, "[00:00 - 00:01] A: x\n[00:01 - 00:02] Борис: y\n", out)
	})

	t.Run("should skip names that contain their own label", func(t *testing.T) {
		doc := "[00:00 - 00:01] A: x\n"

		out, collisions := ApplyMapping(doc, LabelMapping{"A": "A Smith"})

		require.Len(t, collisions, 1)
		assert.Equal(t, doc, out)
	})

	t.Run("should ignore identity and blank entries", func(t *testing.T) {
		doc := "[00:00 - 00:01] A: x\n"

		out, collisions := ApplyMapping(doc, LabelMapping{"A": "A", " ": "Иван", "C": ""})

		assert.Equal(t, doc, out)
		assert.Empty(t, collisions)
	})

	t.Run("should keep dollar signs in names literal", func(t *testing.T) {
		out, _ := ApplyMapping("A: x\n", LabelMapping{"A": "$1 Bill"})
		assert.Equal(t, "$1 Bill: x\n", out)
	})
}

func TestResolveMapping(t *testing.T) {
	participants := []Participant{
		{ID: "p1", Name: "Иван"},
		{Email: "maria@example.com", Name: "Мария"},
		{Name: "Олег"},
	}

	mapping := ResolveMapping(map[string]string{
		"A":  "p1",
		"B":  "maria@example.com",
		"C":  "Олег",
		"D":  "Гость",
		"E":  " ",
		" ": "p1",
	}, participants)

	assert.Equal(t, LabelMapping{
		"A": "Иван",
		"B": "Мария",
		"C": "Олег",
		"D": "Гость",
	}, mapping)
}
