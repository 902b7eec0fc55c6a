package audio

// Processor transforms one render quantum in place. buf already holds the
// sum of the node's inputs; t is the context time of the first frame.
// Processors run on the render thread with the context lock held.
type Processor interface {
	Process(buf [][2]float64, t float64)
}

// ProcessorFunc adapts a plain function to Processor.
type ProcessorFunc func(buf [][2]float64, t float64)

// Process calls f.
func (f ProcessorFunc) Process(buf [][2]float64, t float64) { f(buf, t) }

// Node is a vertex of the render graph. Its output is the processed sum of
// its inputs; it can feed any number of downstream nodes.
type Node struct {
	ctx  *Context
	name string
	proc Processor

	inputs  []*Node
	outputs []*Node

	buf      [][2]float64
	renderID uint64
	busy     bool
}

// NewNode creates an unconnected node. A nil processor passes audio through.
func (c *Context) NewNode(name string, p Processor) *Node {
	return &Node{
		ctx:  c,
		name: name,
		proc: p,
		buf:  make([][2]float64, RenderQuantum),
	}
}

// Name returns the label given at creation.
func (n *Node) Name() string { return n.name }

// Context returns the owning context.
func (n *Node) Context() *Context { return n.ctx }

// Connect routes n's output into dst.
func (n *Node) Connect(dst *Node) {
	n.ctx.Edit(func(p *Patch) { p.Connect(n, dst) })
}

// Disconnect removes every outgoing connection of n.
func (n *Node) Disconnect() {
	n.ctx.Edit(func(p *Patch) { p.Disconnect(n) })
}

// Outputs returns the nodes n currently feeds, in connection order.
func (n *Node) Outputs() []*Node {
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	return append([]*Node(nil), n.outputs...)
}

// Inputs returns the nodes currently feeding n.
func (n *Node) Inputs() []*Node {
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	return append([]*Node(nil), n.inputs...)
}

func (n *Node) pull(id uint64, frames int, t float64) [][2]float64 {
	buf := n.buf[:frames]
	if n.renderID == id {
		return buf
	}
	clear(buf)
	if n.busy {
		// Feedback loop: the inner visit contributes silence.
		return buf
	}
	n.busy = true
	for _, in := range n.inputs {
		src := in.pull(id, frames, t)
		for i := range buf {
			buf[i][0] += src[i][0]
			buf[i][1] += src[i][1]
		}
	}
	if n.proc != nil {
		n.proc.Process(buf, t)
	}
	n.busy = false
	n.renderID = id
	return buf
}

// Patch edits graph topology inside Context.Edit.
type Patch struct{}

// Connect routes src into dst. Duplicate connections are ignored.
func (p *Patch) Connect(src, dst *Node) {
	if src == nil || dst == nil {
		return
	}
	if src.ctx != dst.ctx {
		panic("audio: connecting nodes from different contexts")
	}
	for _, o := range src.outputs {
		if o == dst {
			return
		}
	}
	src.outputs = append(src.outputs, dst)
	dst.inputs = append(dst.inputs, src)
}

// Disconnect removes every outgoing connection of n.
func (p *Patch) Disconnect(n *Node) {
	if n == nil {
		return
	}
	for _, dst := range n.outputs {
		dst.inputs = remove(dst.inputs, n)
	}
	n.outputs = nil
}

// Detach removes n from the graph entirely, incoming edges included.
func (p *Patch) Detach(n *Node) {
	if n == nil {
		return
	}
	p.Disconnect(n)
	for _, src := range n.inputs {
		src.outputs = remove(src.outputs, n)
	}
	n.inputs = nil
}

func remove(nodes []*Node, n *Node) []*Node {
	out := nodes[:0]
	for _, x := range nodes {
		if x != n {
			out = append(out, x)
		}
	}
	clear(nodes[len(out):])
	return out
}
