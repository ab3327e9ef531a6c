package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderBody(t *testing.T) {
	tmpl := EmailTemplate{BadgeID: "badge-1", Body: "Congratulations!"}

	t.Run("appends addendum after blank line", func(t *testing.T) {
		assert.Equal(t, "Congratulations!\n\nFinish both courses.", tmpl.RenderBody("Finish both courses."))
	})

	t.Run("empty addendum leaves body untouched", func(t *testing.T) {
		assert.Equal(t, "Congratulations!", tmpl.RenderBody(""))
		assert.Equal(t, "Congratulations!", tmpl.RenderBody("   "))
	})

	t.Run("empty body yields addendum alone", func(t *testing.T) {
		empty := EmailTemplate{BadgeID: "badge-1"}
		assert.Equal(t, "Finish both courses.", empty.RenderBody("Finish both courses."))
	})
}
