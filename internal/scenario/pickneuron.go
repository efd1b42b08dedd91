package scenario

import (
	"fmt"
	"strings"
	"time"

	"github.com/IliaW/portal-checker/internal/model"
)

const (
	realNeuronText  = "that is a real neuron"
	synthNeuronText = "that is a synthesized neuron"
	overlayProbes   = 20
)

// PickNeuron plays two rounds of the real-or-synthesized neuron game.
type PickNeuron struct {
	URL string
}

func (p *PickNeuron) Run(t *T) error {
	t.Next("Open page")
	if err := t.Open(p.URL); err != nil {
		return err
	}

	t.Next("Click on the real neuron")
	if err := p.clickImage(t, model.XPath("(//img)[3]"), realNeuronText); err != nil {
		return err
	}
	t.Next("Check score 2")
	if err := p.checkScore(t, 2); err != nil {
		return err
	}

	t.Next("Click on the synthesized neuron")
	if err := p.clickImage(t, model.XPath("(//img)[4]"), synthNeuronText); err != nil {
		return err
	}
	t.Next("Check score 3")
	return p.checkScore(t, 3)
}

func (p *PickNeuron) clickImage(t *T, image model.Locator, overlay string) error {
	if err := t.FindElement(image, defaultTimeout); err != nil {
		return err
	}
	src, err := t.Attribute(image, "src", defaultTimeout)
	if err != nil {
		return err
	}
	_, height, err := t.Size(image, defaultTimeout)
	if err != nil {
		return err
	}
	t.Debug("Image source: %s   Image height: %.0f", src, height)
	if !strings.HasSuffix(src, ".jpeg") {
		return fmt.Errorf("image %s is not a jpeg", src)
	}
	if height <= 300 {
		return fmt.Errorf("image %s is only %.0fpx high", src, height)
	}

	if err = t.Click(image, defaultTimeout); err != nil {
		return err
	}
	for i := 0; i < overlayProbes; i++ {
		if visible, _ := t.TextVisible(overlay); visible {
			return nil
		}
		t.Pause(250 * time.Millisecond)
	}

	return fmt.Errorf("overlay %q not shown", overlay)
}

func (p *PickNeuron) checkScore(t *T, score int) error {
	return t.FindElement(model.XPath(fmt.Sprintf("//div[text()='%d']", score)), defaultTimeout)
}
