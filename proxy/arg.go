package proxy

import "proxygen/pdo"

// Arg is one named argument of a call.
type Arg struct {
	Name string
	M    pdo.Marshaller
}

// In binds a value sent to the procedure.
func In[T any](name string, v *T, typ pdo.AttrType) Arg {
	return Arg{Name: name, M: pdo.NewScalar(v, typ, pdo.In)}
}

// Out binds a variable the procedure fills.
func Out[T any](name string, v *T, typ pdo.AttrType) Arg {
	return Arg{Name: name, M: pdo.NewScalar(v, typ, pdo.Out)}
}

// InOut binds a variable sent to the procedure and replaced by its answer.
func InOut[T any](name string, v *T, typ pdo.AttrType) Arg {
	return Arg{Name: name, M: pdo.NewScalar(v, typ, pdo.InOut)}
}

// Object binds a composite object or an array.
func Object(name string, m pdo.Marshaller) Arg {
	return Arg{Name: name, M: m}
}
