package ml

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

const (
	// bceEpsilon keeps log() away from zero in the loss.
	bceEpsilon = 1e-12
	// logitClip bounds scores so sigmoid stays strictly inside (0, 1) in float64.
	logitClip = 30.0
	// initScale is the standard deviation of the initial weights.
	initScale = 0.01
	// logEvery is the epoch interval of the debug loss log.
	logEvery = 100
)

type fitState int

const (
	stateUninitialized fitState = iota
	stateFitting
	stateFitted
)

// LogisticGD is binary logistic regression trained by full-batch gradient
// descent on mean binary cross-entropy. The last weight is the bias.
type LogisticGD struct {
	lr        float64
	maxEpochs int
	tol       float64
	seed      int64
	rejectOne bool

	state   fitState
	weights []float64
	losses  []float64
	epochs  int
}

type logisticSnapshot struct {
	Weights []float64 `json:"weights"`
	Epochs  int       `json:"epochs"`
}

// NewLogisticGD creates an unfitted model with the optimizer settings of cfg.
func NewLogisticGD(cfg TrainConfig) *LogisticGD {
	return &LogisticGD{
		lr:        cfg.LearningRate,
		maxEpochs: cfg.MaxEpochs,
		tol:       cfg.Tolerance,
		seed:      cfg.Seed,
		rejectOne: cfg.RejectSingleClass,
	}
}

// Kind implements Classifier.
func (m *LogisticGD) Kind() Kind { return KindLogRegGD }

// Fit implements Classifier. Weights start as small seeded normal draws;
// training stops after maxEpochs or once the loss changes by less than tol.
func (m *LogisticGD) Fit(X *mat.Dense, y []float64) error {
	if X == nil {
		return fmt.Errorf("logreg fit: %w", ErrEmptyInput)
	}
	n, d := X.Dims()
	if n != len(y) {
		return fmt.Errorf("logreg fit: %w: %d rows, %d labels", ErrShapeMismatch, n, len(y))
	}
	if m.rejectOne && singleClass(y) {
		return fmt.Errorf("logreg fit: %w", ErrDegenerateLabels)
	}

	m.state = stateFitting
	xb := withBias(X)
	target := mat.NewVecDense(n, append([]float64(nil), y...))

	rng := rand.New(rand.NewSource(m.seed))
	init := make([]float64, d+1)
	for i := range init {
		init[i] = rng.NormFloat64() * initScale
	}
	w := mat.NewVecDense(d+1, init)

	prob := mat.NewVecDense(n, nil)
	residual := mat.NewVecDense(n, nil)
	grad := mat.NewVecDense(d+1, nil)
	losses := make([]float64, 0, min(m.maxEpochs, 4096))

	prevLoss := math.Inf(1)
	for epoch := 0; epoch < m.maxEpochs; epoch++ {
		prob.MulVec(xb, w)
		p := prob.RawVector().Data
		for i := range p {
			p[i] = sigmoid(p[i])
		}
		loss := meanBCE(target.RawVector().Data, p)
		losses = append(losses, loss)

		residual.SubVec(prob, target)
		grad.MulVec(xb.T(), residual)
		grad.ScaleVec(1/float64(n), grad)
		w.AddScaledVec(w, -m.lr, grad)

		if epoch%logEvery == 0 || epoch == m.maxEpochs-1 {
			log.Debug().Int("epoch", epoch).Float64("loss", loss).Msg("logreg epoch")
		}

		if math.Abs(prevLoss-loss) < m.tol {
			break
		}
		prevLoss = loss
	}

	weights := make([]float64, d+1)
	copy(weights, w.RawVector().Data)
	m.weights = weights
	m.losses = losses
	m.epochs = len(losses)
	m.state = stateFitted
	return nil
}

// PredictProba implements Classifier.
func (m *LogisticGD) PredictProba(X *mat.Dense) ([]float64, error) {
	if m.state != stateFitted {
		return nil, fmt.Errorf("logreg predict: %w", ErrNotFitted)
	}
	if X == nil {
		return nil, fmt.Errorf("logreg predict: %w", ErrEmptyInput)
	}
	n, d := X.Dims()
	if d+1 != len(m.weights) {
		return nil, fmt.Errorf("logreg predict: %w: %d features, model expects %d", ErrShapeMismatch, d, len(m.weights)-1)
	}

	z := mat.NewVecDense(n, nil)
	z.MulVec(withBias(X), mat.NewVecDense(len(m.weights), m.weights))
	out := make([]float64, n)
	for i := range out {
		out[i] = sigmoid(z.AtVec(i))
	}
	return out, nil
}

// Weights returns a copy of the fitted weights, bias last.
func (m *LogisticGD) Weights() []float64 {
	return append([]float64(nil), m.weights...)
}

// LossHistory returns the mean training loss of every epoch of the last fit.
func (m *LogisticGD) LossHistory() []float64 {
	return append([]float64(nil), m.losses...)
}

// Epochs is the number of epochs the last fit ran.
func (m *LogisticGD) Epochs() int { return m.epochs }

// Fitted reports whether the model can predict.
func (m *LogisticGD) Fitted() bool { return m.state == stateFitted }

func (m *LogisticGD) snapshot() logisticSnapshot {
	return logisticSnapshot{Weights: m.Weights(), Epochs: m.epochs}
}

func (m *LogisticGD) restore(s logisticSnapshot) error {
	if len(s.Weights) == 0 {
		return fmt.Errorf("restore logreg: %w", ErrNotFitted)
	}
	for i, w := range s.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("restore logreg: weight %d is not finite", i)
		}
	}
	m.weights = append([]float64(nil), s.Weights...)
	m.losses = nil
	m.epochs = s.Epochs
	m.state = stateFitted
	return nil
}

// withBias appends a constant 1 column to X.
func withBias(X *mat.Dense) *mat.Dense {
	n, d := X.Dims()
	xb := mat.NewDense(n, d+1, nil)
	xb.Slice(0, n, 0, d).(*mat.Dense).Copy(X)
	for i := 0; i < n; i++ {
		xb.Set(i, d, 1)
	}
	return xb
}

// sigmoid is 1/(1+e^-z), evaluated without overflow for either sign of z.
func sigmoid(z float64) float64 {
	if z > logitClip {
		z = logitClip
	} else if z < -logitClip {
		z = -logitClip
	}
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// meanBCE is the mean binary cross-entropy of probabilities p against labels y.
func meanBCE(y, p []float64) float64 {
	var sum float64
	for i := range y {
		sum += y[i]*math.Log(p[i]+bceEpsilon) + (1-y[i])*math.Log(1-p[i]+bceEpsilon)
	}
	return -sum / float64(len(y))
}

func singleClass(y []float64) bool {
	if len(y) == 0 {
		return true
	}
	for _, v := range y[1:] {
		if v != y[0] {
			return false
		}
	}
	return true
}
