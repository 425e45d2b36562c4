package model

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LogisticRegression minimizes C * sum(w_i * logloss_i) + ||coef||^2 / 2 with damped Newton
// steps. The intercept is not penalized. Hitting MaxIter leaves Converged false, which is not an
// error.
type LogisticRegression struct {
	C           float64
	MaxIter     int
	Tolerance   float64
	ClassWeight ClassWeight

	Coefficients []float64
	Intercept    float64
	Iterations   int
	Converged    bool
}

func NewLogisticRegression(c float64, maxIter int, classWeight ClassWeight) *LogisticRegression {
	return &LogisticRegression{C: c, MaxIter: maxIter, Tolerance: 1e-6, ClassWeight: classWeight}
}

func (l *LogisticRegression) Fit(x mat.Matrix, y []float64) error {
	if err := checkFit("LogisticRegression.Fit", x, y); err != nil {
		return err
	}
	n, c := x.Dims()
	design := mat.NewDense(n, c+1, nil)
	design.Slice(0, n, 0, c).(*mat.Dense).Copy(x)
	for i := 0; i < n; i++ {
		design.Set(i, c, 1)
	}
	sw := l.ClassWeight.SampleWeights(y)

	beta := mat.NewVecDense(c+1, nil)
	z := mat.NewVecDense(n, nil)
	g := mat.NewVecDense(n, nil)
	grad := mat.NewVecDense(c+1, nil)
	scaled := mat.NewDense(n, c+1, nil)
	hess := mat.NewSymDense(c+1, nil)
	var delta mat.VecDense
	var chol mat.Cholesky

	loss := l.loss(design, y, sw, beta, z)
	l.Converged = false
	for l.Iterations = 0; l.Iterations < l.MaxIter; l.Iterations++ {
		z.MulVec(design, beta)
		for i := 0; i < n; i++ {
			p := sigmoid(z.AtVec(i))
			g.SetVec(i, l.C*sw[i]*(p-y[i]))
			h := math.Sqrt(l.C * sw[i] * p * (1 - p))
			for j := 0; j <= c; j++ {
				scaled.Set(i, j, h*design.At(i, j))
			}
		}
		grad.MulVec(design.T(), g)
		for j := 0; j < c; j++ {
			grad.SetVec(j, grad.AtVec(j)+beta.AtVec(j))
		}
		if mat.Norm(grad, math.Inf(1)) <= l.Tolerance {
			l.Converged = true
			break
		}

		hess.SymOuterK(1, scaled.T())
		for j := 0; j < c; j++ {
			hess.SetSym(j, j, hess.At(j, j)+1)
		}
		hess.SetSym(c, c, hess.At(c, c)+1e-10)
		if ok := chol.Factorize(hess); ok {
			if err := chol.SolveVecTo(&delta, grad); err != nil {
				delta.CloneFromVec(grad)
			}
		} else {
			delta.CloneFromVec(grad)
		}

		// backtracking keeps every accepted step a descent step
		step := 1.0
		candidate := mat.NewVecDense(c+1, nil)
		accepted := false
		for k := 0; k < 30; k++ {
			candidate.AddScaledVec(beta, -step, &delta)
			if next := l.loss(design, y, sw, candidate, z); next <= loss {
				loss = next
				accepted = true
				break
			}
			step /= 2
		}
		if !accepted {
			l.Converged = true
			break
		}
		beta.CopyVec(candidate)
	}

	l.Coefficients = make([]float64, c)
	for j := range l.Coefficients {
		l.Coefficients[j] = beta.AtVec(j)
	}
	l.Intercept = beta.AtVec(c)
	return nil
}

func (l *LogisticRegression) loss(design *mat.Dense, y, sw []float64, beta, z *mat.VecDense) float64 {
	z.MulVec(design, beta)
	var total float64
	for i := range y {
		zi := z.AtVec(i)
		total += sw[i] * (log1pExp(zi) - y[i]*zi)
	}
	coef := beta.RawVector().Data[:len(beta.RawVector().Data)-1]
	return l.C*total + 0.5*floats.Dot(coef, coef)
}

func log1pExp(z float64) float64 {
	if z > 0 {
		return z + math.Log1p(math.Exp(-z))
	}
	return math.Log1p(math.Exp(z))
}

func (l *LogisticRegression) PredictProba(x mat.Matrix) ([]float64, error) {
	if err := checkPredict("LogisticRegression.PredictProba", x, len(l.Coefficients)); err != nil {
		return nil, err
	}
	r, _ := x.Dims()
	z := mat.NewVecDense(r, nil)
	z.MulVec(x, mat.NewVecDense(len(l.Coefficients), l.Coefficients))
	result := make([]float64, r)
	for i := range result {
		result[i] = sigmoid(z.AtVec(i) + l.Intercept)
	}
	return result, nil
}

func (l *LogisticRegression) Predict(x mat.Matrix) ([]float64, error) {
	proba, err := l.PredictProba(x)
	if err != nil {
		return nil, err
	}
	return threshold(proba), nil
}

// FeatureImportances returns the absolute coefficients.
func (l *LogisticRegression) FeatureImportances() []float64 {
	result := make([]float64, len(l.Coefficients))
	for i, v := range l.Coefficients {
		result[i] = math.Abs(v)
	}
	return result
}
