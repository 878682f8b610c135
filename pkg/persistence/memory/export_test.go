package memory

func (p *Persistence) LockCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.locks)
}
